package api

import (
	"context"
	"net/http"
	"time"
)

const serviceName = "docjobs"

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type ReadinessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Store     string    `json:"store"`
}

// ReadinessCheck pings the backing store. nil means there is nothing to ping.
type ReadinessCheck func(ctx context.Context) error

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

func HandleReadiness(check ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if check == nil {
			writeJSON(w, http.StatusOK, ReadinessResponse{
				Status:    "ready",
				Timestamp: time.Now(),
				Service:   serviceName,
				Store:     "unknown",
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
				Status:    "not ready",
				Timestamp: time.Now(),
				Service:   serviceName,
				Store:     "disconnected",
			})
			return
		}

		writeJSON(w, http.StatusOK, ReadinessResponse{
			Status:    "ready",
			Timestamp: time.Now(),
			Service:   serviceName,
			Store:     "connected",
		})
	}
}

func HandleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

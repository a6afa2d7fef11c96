package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/jobs"
	"github.com/mtr002/docjobs/internal/logger"
	"github.com/mtr002/docjobs/internal/notify"
	"github.com/mtr002/docjobs/internal/websocket"
)

// Supervisor is the part of jobs.Supervisor the HTTP API drives.
type Supervisor interface {
	Start(ctx context.Context, jobType interfaces.JobType, action string, payload json.RawMessage) (*jobs.Handle, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*interfaces.Descriptor, error)
	ListActive() []*interfaces.Descriptor
	ActiveByType(jobType interfaces.JobType) []*interfaces.Descriptor
	ResultsByType(ctx context.Context, jobType interfaces.JobType) ([]*interfaces.ResultRecord, error)
	Notifications() []notify.Notification
	BadgeCount(jobType interfaces.JobType) int
	ClearAll(ctx context.Context) error
}

type ctxKey int

const correlationKey ctxKey = iota

const correlationHeader = "X-Correlation-ID"

func AddRoutes(
	mux *http.ServeMux,
	sup Supervisor,
	hub *websocket.Hub,
	ready ReadinessCheck,
	originAllowed func(*http.Request) bool,
) {
	mux.HandleFunc("POST /jobs", correlationMiddleware(handleCreateJob(sup)))
	mux.HandleFunc("GET /jobs", correlationMiddleware(handleListJobs(sup)))
	mux.HandleFunc("GET /jobs/{id}", correlationMiddleware(handleGetJob(sup)))
	mux.HandleFunc("DELETE /jobs/{id}", correlationMiddleware(handleCancelJob(sup)))
	mux.HandleFunc("GET /results/{type}", correlationMiddleware(handleResults(sup)))
	mux.HandleFunc("GET /notifications", correlationMiddleware(handleNotifications(sup)))
	mux.HandleFunc("GET /badge/{type}", correlationMiddleware(handleBadge(sup)))
	mux.HandleFunc("POST /clear", correlationMiddleware(handleClear(sup)))
	if hub != nil {
		mux.HandleFunc("/ws", websocket.Handler(hub, originAllowed))
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/health/ready", HandleReadiness(ready))
	mux.HandleFunc("/health/live", HandleLiveness)
}

func correlationMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set(correlationHeader, correlationID)

		logger.WithCorrelationID(correlationID).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Received request")

		ctx := context.WithValue(r.Context(), correlationKey, correlationID)
		next(w, r.WithContext(ctx))
	}
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

type createJobRequest struct {
	Type    interfaces.JobType `json:"type"`
	Action  string             `json:"action,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

type createJobResponse struct {
	ID     string               `json:"id"`
	Type   interfaces.JobType   `json:"type"`
	Action string               `json:"action"`
	Status interfaces.JobStatus `json:"status"`
}

func handleCreateJob(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithCorrelationID(getCorrelationID(r.Context()))

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Warn().Err(err).Msg("Invalid JSON request")
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Action == "" {
			req.Action = jobs.DefaultAction[req.Type]
		}

		h, err := sup.Start(r.Context(), req.Type, req.Action, req.Payload)
		if err != nil {
			log.Warn().Err(err).Str("type", string(req.Type)).Msg("Failed to start job")
			http.Error(w, "Failed to start job: "+err.Error(), statusFor(err))
			return
		}

		log.Info().Str("job_id", h.ID()).Str("type", string(req.Type)).Msg("Job started")
		writeJSON(w, http.StatusCreated, createJobResponse{
			ID:     h.ID(),
			Type:   req.Type,
			Action: req.Action,
			Status: interfaces.StatusRunning,
		})
	}
}

func handleListJobs(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var active []*interfaces.Descriptor
		if t := interfaces.JobType(r.URL.Query().Get("type")); t != "" {
			if !t.Valid() {
				http.Error(w, "Unknown job type", http.StatusBadRequest)
				return
			}
			active = sup.ActiveByType(t)
		} else {
			active = sup.ListActive()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":  active,
			"count": len(active),
		})
	}
}

func handleGetJob(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		d, err := sup.Get(r.Context(), id)
		if err != nil {
			if !errors.Is(err, interfaces.ErrNotFound) {
				logger.WithCorrelationID(getCorrelationID(r.Context())).Error().Err(err).Str("job_id", id).Msg("Failed to get job")
			}
			http.Error(w, "Job not found", statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleCancelJob(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := sup.Cancel(r.Context(), id); err != nil {
			http.Error(w, "Failed to cancel job: "+err.Error(), statusFor(err))
			return
		}
		logger.WithCorrelationID(getCorrelationID(r.Context())).Info().Str("job_id", id).Msg("Job cancel requested")
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResults(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := sup.ResultsByType(r.Context(), interfaces.JobType(r.PathValue("type")))
		if err != nil {
			http.Error(w, "Failed to get results: "+err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": results,
			"count":   len(results),
		})
	}
}

func handleNotifications(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		list := sup.Notifications()
		writeJSON(w, http.StatusOK, map[string]any{
			"notifications": list,
			"count":         len(list),
		})
	}
}

func handleBadge(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := interfaces.JobType(r.PathValue("type"))
		if !t.Valid() {
			http.Error(w, "Unknown job type", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":  t,
			"count": sup.BadgeCount(t),
		})
	}
}

func handleClear(sup Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sup.ClearAll(r.Context()); err != nil {
			logger.WithCorrelationID(getCorrelationID(r.Context())).Error().Err(err).Msg("Failed to clear jobs")
			http.Error(w, "Failed to clear: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrUnknownType), errors.Is(err, jobs.ErrEmptyAction), errors.Is(err, jobs.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrTooManyWorkers):
		return http.StatusTooManyRequests
	case errors.Is(err, jobs.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/mtr002/docjobs/internal/logger"
	"github.com/mtr002/docjobs/internal/websocket"
)

// NewServer serves the API on port. origins lists the browser origins
// allowed to call it and to open /ws; an empty list allows any origin.
func NewServer(sup Supervisor, hub *websocket.Hub, ready ReadinessCheck, port string, origins []string) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", correlationHeader},
		ExposedHeaders: []string{correlationHeader},
	})

	// /ws is checked against the same origins as the API
	mux := http.NewServeMux()
	AddRoutes(mux, sup, hub, ready, c.OriginAllowed)

	// no WriteTimeout: /ws connections are long-lived
	return &Server{
		http: &http.Server{
			Addr:        fmt.Sprintf(":%s", port),
			Handler:     c.Handler(mux),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}
}

type Server struct {
	http *http.Server
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Logger.Info().Str("addr", s.http.Addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	logger.Logger.Info().Msg("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

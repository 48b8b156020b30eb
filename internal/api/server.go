package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/ingest"
	"github.com/ezclips/ezclips-server/internal/media"
	"github.com/ezclips/ezclips-server/internal/playback"
	"github.com/ezclips/ezclips-server/internal/series"
)

const Version = "0.1.0"

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port          int
	Ingest        *ingest.Service
	Series        *series.Orchestrator
	Registry      *catalog.Registry
	Streamer      *playback.Streamer
	Doctor        *media.CachedDoctor
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
	StartTime     time.Time
	PublicBaseURL string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           otelhttp.NewHandler(router, "ezclips"),
			ReadHeaderTimeout: 15 * time.Second,
			// Uploads, downloads and event streams are long-lived.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware())

	r.Get("/health", healthHandler(cfg))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/youtube/download/progress", downloadProgressHandler(cfg))
		r.Get("/youtube/play/{videoId}", playVideoHandler(cfg))
		r.Post("/download/upload", uploadHandler(cfg))
		r.Get("/videos/{videoId}", videoStatusHandler(cfg))

		r.Post("/trim/count-clips", countClipsHandler(cfg))
		r.Post("/trim", trimHandler(cfg))
		r.Get("/trim/play/{videoId}", playTrimmedHandler(cfg))

		r.Post("/generate/series", generateHandler(cfg))
		r.Get("/generate/status/{jobId}", generateStatusHandler(cfg))
		r.Get("/generate/download/{seriesId}", downloadSeriesHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Version:   Version,
			UptimeS:   int64(time.Since(cfg.StartTime).Seconds()),
			PublicURL: cfg.PublicBaseURL,
		}
		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.Toolchain = capsToResponse(caps)
				if !caps.CanCut {
					resp.Status = "degraded"
				}
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

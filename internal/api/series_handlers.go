package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/series"
)

func generateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", string(failure.KindInvalidInput))
			return
		}
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "videoId is required", string(failure.KindInvalidInput))
			return
		}

		sr := series.Request{
			VideoID:       req.VideoID,
			TrimStart:     req.TrimStart,
			ClipDuration:  req.CutDuration,
			ClipCount:     req.NumberOfCuts,
			HeadlineStyle: req.HeadlineStyle,
			Font:          req.Font,
		}
		if req.TrimEnd != nil {
			sr.TrimEnd = *req.TrimEnd
			sr.HasEnd = true
		}

		acc, err := cfg.Series.Generate(r.Context(), sr)
		if err != nil {
			writeFailure(w, cfg.Logger, r, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, acc)
	}
}

func generateStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Series.Status(r.Context(), chi.URLParam(r, "jobId"))
		if errors.Is(err, failure.KindJobNotFound) {
			WriteJSON(w, http.StatusNotFound, JobNotFoundResponse{
				Status: "not_found",
				Error:  "Job not found",
				Code:   string(failure.KindJobNotFound),
			})
			return
		}
		if err != nil {
			writeFailure(w, cfg.Logger, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func downloadSeriesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundle, err := cfg.Series.Archive(r.Context(), chi.URLParam(r, "seriesId"))
		if err != nil {
			writeFailure(w, cfg.Logger, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.Filename()))
		w.WriteHeader(http.StatusOK)
		if err := bundle.Write(w); err != nil {
			// Headers are gone; all that is left is to cut the response short.
			requestLogger(cfg.Logger, r).Warn("series download interrupted", "series_id", bundle.SeriesID, "error", err)
		}
	}
}

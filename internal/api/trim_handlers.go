package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/segment"
)

func countClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CountClipsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", string(failure.KindInvalidInput))
			return
		}
		duration := req.Duration
		if duration == 0 {
			duration = req.ClipDuration
		}
		if req.StartTime == nil || req.EndTime == nil || duration == 0 {
			WriteError(w, http.StatusBadRequest, "Required fields: startTime, endTime, duration", string(failure.KindInvalidInput))
			return
		}
		if !segment.IsAllowedDuration(duration) {
			WriteError(w, http.StatusBadRequest, "Clip duration must be 60 or 120 seconds", string(failure.KindInvalidInput))
			return
		}

		start := int(math.Max(0, math.Floor(*req.StartTime)))
		end := int(math.Max(float64(start+1), math.Floor(*req.EndTime)))
		preview := segment.CountClips(start, end, segment.AllowedDurations)
		total := end - start
		selected := preview.Counts[duration]

		WriteJSON(w, http.StatusOK, CountClipsResponse{
			Success:            true,
			StartTime:          start,
			EndTime:            end,
			TotalDuration:      total,
			TrimmedDuration:    total,
			Clips60s:           preview.Counts[60],
			Clips120s:          preview.Counts[120],
			SelectedDuration:   duration,
			SelectedClipsCount: selected,
			Formula:            fmt.Sprintf("floor(%d / %d) = %d", total, duration, selected),
		})
	}
}

func trimHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", string(failure.KindInvalidInput))
			return
		}
		if req.VideoID == "" || req.StartTime == nil || req.EndTime == nil {
			WriteError(w, http.StatusBadRequest, "Required fields: videoId, startTime, endTime", string(failure.KindInvalidInput))
			return
		}

		res, err := cfg.Ingest.Trim(r.Context(), req.VideoID, *req.StartTime, *req.EndTime)
		if err != nil {
			writeFailure(w, cfg.Logger, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, TrimResponse{
			Success:         true,
			VideoID:         res.VideoID,
			TrimmedVideoURL: res.TrimmedVideoURL,
			StartTime:       res.StartTime,
			EndTime:         res.EndTime,
			TrimmedDuration: res.TrimmedDuration,
			Message:         fmt.Sprintf("Trim applied: %ds to %ds (%ds)", res.StartTime, res.EndTime, res.TrimmedDuration),
		})
	}
}

func playTrimmedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := lookupVideo(w, cfg, r)
		if !ok {
			return
		}
		if v.TrimmedPath == "" {
			WriteError(w, http.StatusNotFound, "No trim has been applied to this video", string(failure.KindNotFound))
			return
		}
		if err := cfg.Streamer.Stream(w, r, v.TrimmedPath); err != nil {
			writeFailure(w, cfg.Logger, r, err)
		}
	}
}

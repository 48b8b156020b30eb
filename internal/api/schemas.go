package api

import (
	"time"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/media"
)

type HealthResponse struct {
	Status    string             `json:"status"`
	Version   string             `json:"version"`
	UptimeS   int64              `json:"uptime_s"`
	PublicURL string             `json:"public_url,omitempty"`
	Toolchain *ToolchainResponse `json:"toolchain,omitempty"`
}

type ToolchainResponse struct {
	CanCut      bool                     `json:"can_cut"`
	CanAcquire  bool                     `json:"can_acquire"`
	Tools       map[string]media.DepInfo `json:"tools"`
	LastProbeAt string                   `json:"last_probe_at,omitempty"`
	DepsAvail   int                      `json:"deps_available"`
	DepsTotal   int                      `json:"deps_total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JobNotFoundResponse keeps the status field pollers switch on.
type JobNotFoundResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

type UploadResponse struct {
	Success     bool   `json:"success"`
	VideoID     string `json:"videoId"`
	Duration    int    `json:"duration"`
	Size        int64  `json:"size"`
	State       string `json:"state"`
	PlayableURL string `json:"playableUrl"`
	Filename    string `json:"filename"`
	CreatedAt   string `json:"createdAt"`
}

type CountClipsRequest struct {
	VideoID      string   `json:"videoId,omitempty"`
	StartTime    *float64 `json:"startTime"`
	EndTime      *float64 `json:"endTime"`
	Duration     int      `json:"duration"`
	ClipDuration int      `json:"clipDuration"`
}

type CountClipsResponse struct {
	Success            bool   `json:"success"`
	StartTime          int    `json:"startTime"`
	EndTime            int    `json:"endTime"`
	TotalDuration      int    `json:"totalDuration"`
	TrimmedDuration    int    `json:"trimmedDuration"`
	Clips60s           int    `json:"clips60s"`
	Clips120s          int    `json:"clips120s"`
	SelectedDuration   int    `json:"selectedDuration"`
	SelectedClipsCount int    `json:"selectedClipsCount"`
	Formula            string `json:"formula"`
}

type TrimRequest struct {
	VideoID   string   `json:"videoId"`
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
}

type TrimResponse struct {
	Success         bool   `json:"success"`
	VideoID         string `json:"videoId"`
	TrimmedVideoURL string `json:"trimmedVideoUrl"`
	StartTime       int    `json:"startTime"`
	EndTime         int    `json:"endTime"`
	TrimmedDuration int    `json:"trimmedDuration"`
	Message         string `json:"message"`
}

type GenerateRequest struct {
	VideoID       string   `json:"videoId"`
	TrimStart     float64  `json:"trimStart"`
	TrimEnd       *float64 `json:"trimEnd"`
	CutDuration   int      `json:"cutDuration"`
	NumberOfCuts  int      `json:"numberOfCuts"`
	HeadlineStyle string   `json:"headlineStyle"`
	Font          string   `json:"font"`
}

func uploadToResponse(v *catalog.Video, playableURL string) UploadResponse {
	return UploadResponse{
		Success:     true,
		VideoID:     v.ID,
		Duration:    v.Duration,
		Size:        v.Size,
		State:       "ready",
		PlayableURL: playableURL,
		Filename:    v.OriginalName,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}

func capsToResponse(c *media.Capabilities) *ToolchainResponse {
	resp := &ToolchainResponse{
		CanCut:     c.CanCut,
		CanAcquire: c.CanAcquire,
		Tools:      c.Tools,
		DepsAvail:  c.Summary.Available,
		DepsTotal:  c.Summary.Total,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

package ingest

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/logging"
)

// TrimResult describes an applied trim preview.
type TrimResult struct {
	VideoID         string `json:"videoId"`
	TrimmedVideoURL string `json:"trimmedVideoUrl"`
	StartTime       int    `json:"startTime"`
	EndTime         int    `json:"endTime"`
	TrimmedDuration int    `json:"trimmedDuration"`
}

// Trim renders [startTime, endTime) of a ready video into <id>_trimmed.mp4
// next to the source so the user can preview the window. The video is
// claimed for the duration of the cut and always returns to ready: a failed
// preview does not damage the source.
func (s *Service) Trim(ctx context.Context, videoID string, startTime, endTime float64) (*TrimResult, error) {
	v, err := s.registry.MustGet(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(v.Path); err != nil || fi.Size() == 0 {
		return nil, failure.New(failure.KindVideoNotReady, "Video file is missing or empty")
	}

	start := int(math.Max(0, math.Floor(startTime)))
	end := int(math.Max(float64(start+1), math.Floor(endTime)))
	if v.Duration > 0 && end > v.Duration {
		return nil, failure.New(failure.KindInvalidWindow,
			"End time (%ds) exceeds the video duration (%ds)", end, v.Duration)
	}

	if _, err := s.machine.Claim(ctx, videoID, "trim"); err != nil {
		return nil, err
	}
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if _, err := s.machine.Release(releaseCtx, videoID, nil); err != nil {
			s.logger.Error("failed to release video after trim", "video_id", videoID, "error", err)
		}
	}()

	out := filepath.Join(filepath.Dir(v.Path), videoID+"_trimmed.mp4")
	if err := s.cutter.Cut(ctx, v.Path, out, start, end-start); err != nil {
		return nil, err
	}
	if err := s.registry.SetTrim(ctx, videoID, start, end, out); err != nil {
		return nil, err
	}

	s.logger.Info("trim preview applied",
		"video_id", videoID,
		"start", start,
		"end", end,
		"output", logging.SanitizePath(out),
	)
	return &TrimResult{
		VideoID:         videoID,
		TrimmedVideoURL: TrimmedURL(videoID),
		StartTime:       start,
		EndTime:         end,
		TrimmedDuration: end - start,
	}, nil
}

// Package ingest brings source videos into the system, by reference through
// a Fetcher or by direct upload, and leaves each one registered and ready.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ezclips/ezclips-server/internal/acquire"
	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/media"
	"github.com/ezclips/ezclips-server/internal/metrics"
)

const DefaultMaxUploadBytes int64 = 2 << 30

// Config holds the directories and limits ingestion works with.
type Config struct {
	UploadsDir     string
	DownloadsDir   string
	MaxUploadBytes int64
}

// Service runs both ingestion flows and the trim preview.
type Service struct {
	cfg       Config
	registry  *catalog.Registry
	machine   *lifecycle.Machine
	validator media.Validator
	cutter    media.Cutter
	fetcher   acquire.Fetcher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(
	cfg Config,
	registry *catalog.Registry,
	machine *lifecycle.Machine,
	validator media.Validator,
	cutter media.Cutter,
	fetcher acquire.Fetcher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Service{
		cfg:       cfg,
		registry:  registry,
		machine:   machine,
		validator: validator,
		cutter:    cutter,
		fetcher:   fetcher,
		metrics:   m,
		logger:    logging.WithComponent(logger, "ingest"),
	}
}

// MaxUploadBytes is the configured upload limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

// PlayableURL is where clients stream a source video.
func PlayableURL(videoID string) string {
	return "/api/youtube/play/" + videoID
}

// TrimmedURL is where clients stream the trim preview.
func TrimmedURL(videoID string) string {
	return "/api/trim/play/" + videoID
}

// Status is the readiness view of one video.
type Status struct {
	VideoID     string          `json:"videoId"`
	State       lifecycle.State `json:"state"`
	Ready       bool            `json:"ready"`
	Progress    int             `json:"progress"`
	Duration    int             `json:"duration,omitempty"`
	PlayableURL string          `json:"playableUrl,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Status combines the registry record and the lifecycle state of id.
func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	st, err := s.machine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, failure.New(failure.KindNotFound, "video %s not found", id)
	}

	out := &Status{VideoID: id, State: st.State, Progress: st.Progress, Error: st.Error}
	v, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v != nil {
		out.Duration = v.Duration
	}
	if st.State == lifecycle.StateReady && v != nil {
		if fi, err := os.Stat(v.Path); err != nil || fi.Size() == 0 {
			out.Error = "Video file is missing on disk"
		} else {
			out.Ready = true
			out.PlayableURL = PlayableURL(id)
		}
	}
	return out, nil
}

// markFailed moves id to error. It runs detached from ctx so a dropped client
// still leaves an accurate state behind.
func (s *Service) markFailed(ctx context.Context, id string, cause error) {
	msg := failure.Message(cause)
	if _, err := s.machine.Transition(context.WithoutCancel(ctx), id, lifecycle.To(lifecycle.StateError).WithError(msg)); err != nil {
		s.logger.Error("failed to record ingestion failure", "video_id", id, "error", err)
	}
}

func removeQuietly(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove file", "path", logging.SanitizePath(path), "error", fmt.Sprint(err))
	}
}

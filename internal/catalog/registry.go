package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/logging"
)

// Registry is the only way other packages read or change Video records.
type Registry struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(repo Repository, logger *slog.Logger) *Registry {
	return &Registry{repo: repo, logger: logger, now: time.Now}
}

// Register adds a new record. Duplicate ids fail with AlreadyExists.
func (r *Registry) Register(ctx context.Context, v *Video) error {
	if v.ID == "" || v.Path == "" {
		return failure.New(failure.KindInvalidInput, "video id and path are required")
	}
	if v.SourceKind != SourceFetched && v.SourceKind != SourceUploaded {
		return failure.New(failure.KindInvalidInput, "unknown source kind %q", v.SourceKind)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now()
	}

	if err := r.repo.CreateVideo(ctx, v); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return failure.New(failure.KindAlreadyExists, "video %s is already registered", v.ID)
		}
		return fmt.Errorf("create video: %w", err)
	}

	r.logger.Info("video registered",
		"video_id", v.ID,
		"source", v.SourceKind,
		"duration", v.Duration,
		"size", v.Size,
		"path", logging.SanitizePath(v.Path),
	)
	return nil
}

// Get returns the record for id, or nil when it is not registered.
func (r *Registry) Get(ctx context.Context, id string) (*Video, error) {
	v, err := r.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

// MustGet is Get with a NotFound failure for unknown ids.
func (r *Registry) MustGet(ctx context.Context, id string) (*Video, error) {
	v, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, failure.New(failure.KindNotFound, "video %s not found", id)
	}
	return v, nil
}

func (r *Registry) List(ctx context.Context) ([]*Video, error) {
	return r.repo.ListVideos(ctx)
}

// SetDuration records the authoritative duration once it is resolved.
func (r *Registry) SetDuration(ctx context.Context, id string, seconds int) error {
	if seconds <= 0 {
		return failure.New(failure.KindInvalidInput, "duration must be positive")
	}
	if err := r.repo.UpdateVideoDuration(ctx, id, seconds); err != nil {
		return fmt.Errorf("update duration: %w", err)
	}
	return nil
}

// SetTrim records the last applied trim preview.
func (r *Registry) SetTrim(ctx context.Context, id string, start, end int, trimmedPath string) error {
	if err := r.repo.UpdateVideoTrim(ctx, id, start, end, trimmedPath); err != nil {
		return fmt.Errorf("update trim: %w", err)
	}
	return nil
}

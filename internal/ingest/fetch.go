package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ezclips/ezclips-server/internal/acquire"
	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/progress"
)

// Fetch acquires the video at rawURL, reporting through emitter. The emitter
// always receives exactly one terminal call. The returned error carries the
// same message the emitter saw.
func (s *Service) Fetch(ctx context.Context, rawURL string, emitter progress.Emitter) (*catalog.Video, error) {
	if emitter == nil {
		emitter = progress.Discard{}
	}

	clean, ok := acquire.SanitizeURL(rawURL)
	if !ok {
		err := failure.New(failure.KindInvalidInput,
			"Invalid YouTube URL. Use https://youtube.com/watch?v=VIDEO_ID or https://youtu.be/VIDEO_ID")
		emitter.OnError(failure.Message(err))
		return nil, err
	}

	id := catalog.NewID()
	logger := logging.WithVideoID(s.logger, id).With("url", logging.SanitizeURL(clean, "v"))

	if _, err := s.machine.Initialize(ctx, id); err != nil {
		emitter.OnError(failure.Message(err))
		return nil, err
	}
	if _, err := s.machine.Transition(ctx, id, lifecycle.To(lifecycle.StateAcquiring).WithProgress(0)); err != nil {
		emitter.OnError(failure.Message(err))
		return nil, err
	}
	logger.Info("acquisition started")

	fail := func(err error) (*catalog.Video, error) {
		s.markFailed(ctx, id, err)
		s.metrics.Acquisition("failed")
		emitter.OnError(failure.Message(err))
		logger.Warn("acquisition failed", "error", failure.Detail(err))
		return nil, err
	}

	var mu sync.Mutex
	lastPersisted := 0
	onProgress := func(pct float64, strategy string) {
		emitter.OnProgress(pct, fmt.Sprintf("Downloading (%s)... %.1f%%", strategy, pct))

		// The state record only moves in whole percents.
		whole := int(pct)
		mu.Lock()
		if whole <= lastPersisted {
			mu.Unlock()
			return
		}
		lastPersisted = whole
		mu.Unlock()
		if _, err := s.machine.Transition(ctx, id, lifecycle.Update{Progress: &whole}); err != nil {
			logger.Debug("failed to persist acquisition progress", "error", err)
		}
	}

	dl, err := s.fetcher.Fetch(ctx, acquire.Request{URL: clean, ID: id, OutputDir: s.cfg.DownloadsDir}, onProgress)
	if err != nil {
		return fail(err)
	}

	info, err := s.validator.Validate(ctx, dl.Path)
	if err != nil {
		removeQuietly(logger, dl.Path)
		return fail(err)
	}

	v := &catalog.Video{
		ID:         id,
		Path:       dl.Path,
		Duration:   info.Duration,
		Size:       dl.Size,
		SourceKind: catalog.SourceFetched,
		OriginURL:  clean,
		OriginID:   acquire.ExtractVideoID(clean),
	}
	if err := s.registry.Register(ctx, v); err != nil {
		return fail(err)
	}

	_, err = s.machine.Transition(ctx, id, lifecycle.Update{
		State:    ptr(lifecycle.StateReady),
		Progress: ptr(100),
		Metadata: map[string]any{"strategy": dl.Strategy, "origin_id": v.OriginID},
	})
	if err != nil {
		return fail(err)
	}

	s.metrics.Acquisition("succeeded")
	logger.Info("acquisition completed", "duration", info.Duration, "size", dl.Size, "strategy", dl.Strategy)
	emitter.OnComplete(progress.Result{VideoID: id, Duration: info.Duration, PlayableURL: PlayableURL(id)})
	return v, nil
}

func ptr[T any](v T) *T { return &v }

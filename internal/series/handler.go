package series

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ezclips/ezclips-server/internal/export"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/jobs"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/segment"
)

// handle runs one generate-series job. The video was claimed by Generate;
// this is where the claim ends, whatever the outcome.
func (o *Orchestrator) handle(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) error {
	var p payload
	if err := job.Decode(&p); err != nil {
		return failure.Wrap(failure.KindInvalidInput, err, "Invalid series job payload")
	}
	logger := logging.WithSeriesID(logging.WithJobID(o.logger, job.ID), p.SeriesID).With("video_id", p.VideoID)

	// Release only a claim we still hold; anything else belongs to someone else.
	st, err := o.machine.Get(ctx, p.VideoID)
	if err != nil {
		return err
	}
	if st == nil {
		return failure.New(failure.KindNotFound, "video %s not found", p.VideoID)
	}
	if st.State != lifecycle.StateProcessing {
		return failure.New(failure.KindVideoNotReady,
			"video is not being processed (current state: %s)", st.State)
	}

	s, err := o.build(ctx, job.ID, p, report)
	if _, rerr := o.machine.Release(context.WithoutCancel(ctx), p.VideoID, err); rerr != nil {
		logger.Error("failed to release video", "error", rerr)
	}
	if err != nil {
		logger.Warn("series failed", "error", failure.Detail(err))
		return err
	}

	logger.Info("series completed", "clips", len(s.Clips), "dir", logging.SanitizePath(s.Dir))
	return nil
}

func (o *Orchestrator) build(ctx context.Context, jobID string, p payload, report jobs.ProgressFunc) (*Series, error) {
	clips, err := segment.ComputeBoundaries(p.Start, p.End, p.ClipDuration)
	if err != nil {
		return nil, err
	}
	if p.ClipCount > 0 && p.ClipCount < len(clips) {
		clips = clips[:p.ClipCount]
	}

	dir, ok := Dir(o.root, p.SeriesID)
	if !ok {
		return nil, failure.New(failure.KindInvalidInput, "invalid series id")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create series dir: %w", err)
	}

	s := &Series{
		ID:            p.SeriesID,
		VideoID:       p.VideoID,
		JobID:         jobID,
		Dir:           dir,
		Window:        segment.Window{Start: p.Start, End: p.End},
		ClipDuration:  p.ClipDuration,
		Clips:         segment.Assign(clips, dir),
		HeadlineStyle: p.HeadlineStyle,
		Font:          p.Font,
		CreatedAt:     time.Now().UTC(),
	}
	report(10)

	// Fail fast: a series with a hole in its numbering is worse than none.
	n := len(s.Clips)
	for i, c := range s.Clips {
		if err := ctx.Err(); err != nil {
			return nil, failure.Wrap(failure.KindCutFailed, err, "Series generation was cancelled")
		}
		if err := o.cutter.Cut(ctx, p.VideoPath, c.OutputPath, c.Start, c.Duration); err != nil {
			return nil, failure.Wrap(failure.KindCutFailed, err,
				"Failed to cut clip %d of %d: %s", c.Index, n, failure.Message(err))
		}
		o.metrics.ClipCut()
		report(10 + 90*(i+1)/n)
	}

	s.CompletedAt = time.Now().UTC()
	if err := writeManifest(s); err != nil {
		return nil, err
	}
	if err := writeCutList(s, p.VideoPath); err != nil {
		return nil, err
	}

	if o.publisher != nil {
		if err := o.publisher.PublishSeries(ctx, s); err != nil {
			o.logger.Warn("series publish failed", "series_id", s.ID, "error", err)
		}
	}
	return s, nil
}

func writeCutList(s *Series, source string) error {
	entries := make([]export.CutEntry, len(s.Clips))
	for i, c := range s.Clips {
		entries[i] = export.CutEntry{
			Name:      c.Label,
			MediaPath: filepath.Base(source),
			SourceIn:  c.Start,
			SourceOut: c.End(),
		}
	}
	edl := export.GenerateEDL(entries, "ezclips "+s.ID, 30)
	return writeFileAtomic(filepath.Join(s.Dir, CutListFile), []byte(edl))
}

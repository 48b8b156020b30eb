package series

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ezclips/ezclips-server/internal/catalog"
	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/jobs"
	"github.com/ezclips/ezclips-server/internal/lifecycle"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/media"
	"github.com/ezclips/ezclips-server/internal/metrics"
	"github.com/ezclips/ezclips-server/internal/segment"
)

// Request asks for a series over [TrimStart, TrimEnd) of a video. When HasEnd
// is false the window runs to the end of the video. ClipCount caps the number
// of clips when positive.
type Request struct {
	VideoID       string
	TrimStart     float64
	TrimEnd       float64
	HasEnd        bool
	ClipDuration  int
	ClipCount     int
	HeadlineStyle string
	Font          string
}

// Accepted is returned once the work is queued.
type Accepted struct {
	JobID    string `json:"jobId"`
	SeriesID string `json:"seriesId"`
	Status   string `json:"status"`
}

// JobStatus is the polling view of a generation job.
type JobStatus struct {
	JobID        string     `json:"jobId"`
	Status       jobs.State `json:"status"`
	Progress     int        `json:"progress"`
	FailedReason string     `json:"failedReason,omitempty"`
}

// Orchestrator validates generation requests and runs the queued work.
type Orchestrator struct {
	root      string
	registry  *catalog.Registry
	machine   *lifecycle.Machine
	validator media.Validator
	cutter    media.Cutter
	queue     jobs.Queue
	publisher Publisher
	archiver  Archiver
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds an Orchestrator writing series under root. A nil publisher skips
// publishing.
func New(
	root string,
	registry *catalog.Registry,
	machine *lifecycle.Machine,
	validator media.Validator,
	cutter media.Cutter,
	queue jobs.Queue,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		root:      root,
		registry:  registry,
		machine:   machine,
		validator: validator,
		cutter:    cutter,
		queue:     queue,
		publisher: publisher,
		archiver:  ZipArchiver{},
		metrics:   m,
		logger:    logging.WithComponent(logger, "series"),
	}
}

// Register binds the generation handler on the queue.
func (o *Orchestrator) Register() error {
	return o.queue.RegisterHandler(JobGenerateSeries, o.handle)
}

// Generate claims the video, resolves the window and queues the cutting.
// Everything up to the enqueue fails synchronously; later failures surface
// only through the job status.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Accepted, error) {
	if req.ClipDuration == 0 {
		req.ClipDuration = segment.AllowedDurations[0]
	}
	if req.HeadlineStyle == "" {
		req.HeadlineStyle = DefaultHeadlineStyle
	}
	if req.Font == "" {
		req.Font = DefaultFont
	}
	if req.ClipCount < 0 {
		return nil, failure.New(failure.KindInvalidInput, "numberOfCuts must not be negative")
	}

	v, err := o.registry.MustGet(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}
	if _, err := o.machine.Claim(ctx, req.VideoID, "series"); err != nil {
		return nil, err
	}
	logger := logging.WithVideoID(o.logger, req.VideoID)

	// Until the job is queued nothing has touched the video, so validation
	// failures hand it straight back.
	abort := func(err error) (*Accepted, error) {
		if _, rerr := o.machine.Release(context.WithoutCancel(ctx), req.VideoID, nil); rerr != nil {
			logger.Error("failed to release video", "error", rerr)
		}
		return nil, err
	}

	duration := v.Duration
	if duration <= 0 {
		info, err := o.validator.Validate(ctx, v.Path)
		if err != nil {
			if _, rerr := o.machine.Release(context.WithoutCancel(ctx), req.VideoID, err); rerr != nil {
				logger.Error("failed to record validation failure", "error", rerr)
			}
			if failure.KindOf(err) != failure.KindValidationFailed {
				err = failure.Wrap(failure.KindValidationFailed, err, "Could not determine the video duration")
			}
			return nil, err
		}
		duration = info.Duration
		if err := o.registry.SetDuration(ctx, req.VideoID, duration); err != nil {
			logger.Warn("failed to store resolved duration", "error", err)
		}
	}

	window, err := segment.ClampWindow(req.TrimStart, req.TrimEnd, req.HasEnd, duration)
	if err != nil {
		return abort(err)
	}
	if !segment.IsAllowedDuration(req.ClipDuration) {
		return abort(failure.New(failure.KindInvalidInput,
			"cutDuration must be one of %v seconds", segment.AllowedDurations))
	}
	if _, err := segment.ComputeBoundaries(window.Start, window.End, req.ClipDuration); err != nil {
		return abort(err)
	}

	seriesID := catalog.NewID()
	p := payload{
		SeriesID:      seriesID,
		VideoID:       req.VideoID,
		VideoPath:     v.Path,
		Start:         window.Start,
		End:           window.End,
		ClipDuration:  req.ClipDuration,
		ClipCount:     req.ClipCount,
		HeadlineStyle: req.HeadlineStyle,
		Font:          req.Font,
	}
	jobID, err := o.queue.Enqueue(ctx, JobGenerateSeries, p)
	if err != nil {
		return abort(fmt.Errorf("enqueue series: %w", err))
	}

	logger.Info("series queued",
		"series_id", seriesID,
		"job_id", jobID,
		"start", window.Start,
		"end", window.End,
		"clip_duration", req.ClipDuration,
		"clip_count", req.ClipCount,
	)
	return &Accepted{JobID: jobID, SeriesID: seriesID, Status: string(lifecycle.StateProcessing)}, nil
}

// Status reports a generation job, or JobNotFound.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := o.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, failure.New(failure.KindJobNotFound, "job %s not found", jobID)
	}
	return &JobStatus{
		JobID:        job.ID,
		Status:       job.State,
		Progress:     job.Progress,
		FailedReason: job.FailedReason,
	}, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/logging"
	"github.com/ezclips/ezclips-server/internal/metrics"
)

// ProgressFunc reports a job's completion percentage. Values are clamped to
// 0..100 and never move backwards.
type ProgressFunc func(percent int)

// Handler runs one job. A returned error fails the job with err.Error() as
// its reason.
type Handler func(ctx context.Context, job *Job, report ProgressFunc) error

// Queue schedules named jobs and runs them with registered handlers.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (string, error)
	// GetJob returns (nil, nil) for unknown ids.
	GetJob(ctx context.Context, id string) (*Job, error)
	RegisterHandler(name string, h Handler) error
	Start(ctx context.Context) error
	Close() error
}

type enqueueOptions struct {
	id string
}

type EnqueueOption func(*enqueueOptions)

// WithID schedules the job under a caller-chosen id instead of a fresh one.
func WithID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

func newJob(name string, payload any, opts []EnqueueOption) (*Job, error) {
	if name == "" {
		return nil, failure.New(failure.KindInvalidInput, "job name is required")
	}
	o := enqueueOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, failure.Wrap(failure.KindInvalidInput, err, "job payload is not serializable")
	}

	now := time.Now().UTC()
	return &Job{
		ID:        o.id,
		Name:      name,
		Payload:   raw,
		State:     StateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// handlers is the name-to-handler table shared by both queue kinds.
type handlers struct {
	mu    sync.RWMutex
	table map[string]Handler
}

func (h *handlers) register(name string, fn Handler) error {
	if name == "" || fn == nil {
		return failure.New(failure.KindConfiguration, "handler name and function are required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.table == nil {
		h.table = make(map[string]Handler)
	}
	if _, ok := h.table[name]; ok {
		return failure.New(failure.KindConfiguration, "handler for %q is already registered", name)
	}
	h.table[name] = fn
	return nil
}

func (h *handlers) get(name string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.table[name]
	return fn, ok
}

func (h *handlers) names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.table))
	for name := range h.table {
		out = append(out, name)
	}
	return out
}

// executor runs a claimed job and records its outcome.
type executor struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (e *executor) run(ctx context.Context, job *Job, h Handler) error {
	logger := logging.WithJobID(e.logger, job.ID).With("job_name", job.Name)
	logger.Info("job started")
	e.metrics.JobState(job.Name, string(StateActive))
	done := e.metrics.JobStarted(job.Name)
	defer done()

	var mu sync.Mutex
	last := job.Progress
	report := func(percent int) {
		percent = clampPercent(percent)
		mu.Lock()
		if percent <= last {
			mu.Unlock()
			return
		}
		last = percent
		mu.Unlock()
		if err := e.store.UpdateProgress(ctx, job.ID, percent); err != nil {
			logger.Warn("failed to persist job progress", "progress", percent, "error", err)
		}
	}

	err := safeCall(ctx, job, h, report)

	// Outcome writes must land even when the run was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		mu.Lock()
		p := last
		mu.Unlock()
		if ferr := e.store.Finish(finishCtx, job.ID, StateFailed, p, err.Error()); ferr != nil {
			logger.Error("failed to record job failure", "error", ferr)
		}
		e.metrics.JobState(job.Name, string(StateFailed))
		logger.Error("job failed", "error", err, "kind", string(failure.KindOf(err)))
		return err
	}

	if ferr := e.store.Finish(finishCtx, job.ID, StateCompleted, 100, ""); ferr != nil {
		logger.Error("failed to record job completion", "error", ferr)
		return ferr
	}
	e.metrics.JobState(job.Name, string(StateCompleted))
	logger.Info("job completed")
	return nil
}

func safeCall(ctx context.Context, job *Job, h Handler, report ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return h(ctx, job, report)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Wait polls q until job id reaches a terminal state. A failed job yields a
// *FailedError carrying its reason.
func Wait(ctx context.Context, q Queue, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, failure.New(failure.KindJobNotFound, "job %s not found", id)
		}
		switch job.State {
		case StateCompleted:
			return job, nil
		case StateFailed:
			return job, &FailedError{JobID: job.ID, Reason: job.FailedReason}
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

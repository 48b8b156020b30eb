package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ezclips/ezclips-server/internal/metrics"
)

// LocalQueue runs jobs on a pool of in-process workers. Each worker polls the
// store on a ticker and is also woken whenever a job is enqueued or a handler
// is registered. Jobs survive in the store, so a SQL-backed LocalQueue keeps
// status across restarts.
type LocalQueue struct {
	store    Store
	logger   *slog.Logger
	exec     *executor
	handlers handlers

	workers      int
	pollInterval time.Duration
	wake         chan struct{}

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type LocalOption func(*LocalQueue)

// WithPollInterval sets how often idle workers re-check the store.
func WithPollInterval(d time.Duration) LocalOption {
	return func(q *LocalQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func NewLocalQueue(store Store, workers int, logger *slog.Logger, m *metrics.Metrics, opts ...LocalOption) *LocalQueue {
	if workers < 1 {
		workers = 1
	}
	q := &LocalQueue{
		store:        store,
		logger:       logger,
		exec:         &executor{store: store, logger: logger, metrics: m},
		workers:      workers,
		pollInterval: 2 * time.Second,
		wake:         make(chan struct{}, workers),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *LocalQueue) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (string, error) {
	job, err := newJob(name, payload, opts)
	if err != nil {
		return "", err
	}
	if err := q.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	q.exec.metrics.JobState(name, string(StateWaiting))

	if _, ok := q.handlers.get(name); !ok {
		q.logger.Warn("job enqueued without a handler, it will wait", "job_id", job.ID, "job_name", name)
	} else {
		q.logger.Debug("job enqueued", "job_id", job.ID, "job_name", name)
	}
	q.notify()
	return job.ID, nil
}

func (q *LocalQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// RegisterHandler binds name to h. Jobs already waiting under name are
// dispatched once it is registered.
func (q *LocalQueue) RegisterHandler(name string, h Handler) error {
	if err := q.handlers.register(name, h); err != nil {
		return err
	}
	q.notify()
	return nil
}

// Start launches the workers. Calling it again while running is a no-op.
func (q *LocalQueue) Start(ctx context.Context) error {
	if q.running.Swap(true) {
		return nil
	}
	ctx, q.cancel = context.WithCancel(ctx)

	q.logger.Info("job queue started", "workers", q.workers, "poll_interval", q.pollInterval)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	return nil
}

// Close stops the workers and waits for running jobs to return.
func (q *LocalQueue) Close() error {
	if !q.running.Swap(false) {
		return nil
	}
	q.cancel()
	q.wg.Wait()
	q.logger.Info("job queue stopped")
	return nil
}

func (q *LocalQueue) notify() {
	for i := 0; i < q.workers; i++ {
		select {
		case q.wake <- struct{}{}:
		default:
			return
		}
	}
}

func (q *LocalQueue) worker(ctx context.Context, n int) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil && q.processNext(ctx) {
		}

		select {
		case <-ctx.Done():
			q.logger.Debug("job worker exiting", "worker", n)
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// processNext claims and runs one job, reporting whether one was found.
func (q *LocalQueue) processNext(ctx context.Context) bool {
	names := q.handlers.names()
	if len(names) == 0 {
		return false
	}

	job, err := q.store.ClaimNext(ctx, names)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("failed to claim job", "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}

	h, _ := q.handlers.get(job.Name)
	_ = q.exec.run(ctx, job, h)
	return true
}

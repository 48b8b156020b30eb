package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ezclips/ezclips-server/internal/failure"
	"github.com/ezclips/ezclips-server/internal/metrics"
)

// Machine applies the transition rules on top of a Store. Every mutation of a
// given id runs under that id's lock, so (state, progress) pairs never tear.
type Machine struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *keyedMutex
	now     func() time.Time
}

func NewMachine(store Store, logger *slog.Logger, m *metrics.Metrics) *Machine {
	return &Machine{
		store:   store,
		logger:  logger,
		metrics: m,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// Initialize starts tracking id in the idle state. An id that is already
// tracked is never overwritten.
func (m *Machine) Initialize(ctx context.Context, id string) (*VideoState, error) {
	if id == "" {
		return nil, failure.New(failure.KindInvalidInput, "video id is required")
	}
	unlock := m.locks.lock(id)
	defer unlock()

	now := m.now()
	s := &VideoState{ID: id, State: StateIdle, CreatedAt: now, UpdatedAt: now}
	if err := m.store.Create(ctx, s); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, failure.New(failure.KindAlreadyExists, "video %s is already tracked", id)
		}
		return nil, fmt.Errorf("create video state: %w", err)
	}

	m.logger.Debug("video state initialized", "video_id", id)
	return s.clone(), nil
}

// Transition merges u into the record of id and stamps the update time.
func (m *Machine) Transition(ctx context.Context, id string, u Update) (*VideoState, error) {
	unlock := m.locks.lock(id)
	defer unlock()
	return m.transitionLocked(ctx, id, u)
}

func (m *Machine) transitionLocked(ctx context.Context, id string, u Update) (*VideoState, error) {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load video state: %w", err)
	}
	if cur == nil {
		return nil, failure.New(failure.KindNotFound, "video %s not found", id)
	}

	from := cur.State
	next := cur.clone()

	if u.State != nil {
		if !u.State.Valid() {
			return nil, failure.New(failure.KindInvalidInput, "unknown state %q", *u.State)
		}
		if !CanTransition(from, *u.State) {
			return nil, failure.New(failure.KindInvalidTransition,
				"video %s cannot move from %s to %s", id, from, *u.State)
		}
		next.State = *u.State
	}
	if u.Progress != nil {
		p := *u.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		next.Progress = p
	}
	if u.ClearError {
		next.Error = ""
	}
	if u.Error != nil {
		next.Error = *u.Error
	}
	if u.Metadata != nil {
		if next.Metadata == nil {
			next.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			next.Metadata[k] = v
		}
	}
	next.UpdatedAt = m.now()

	if err := m.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save video state: %w", err)
	}

	if from != next.State {
		m.metrics.Transition(string(from), string(next.State))
		m.logger.Info("video state changed", "video_id", id, "from", from, "to", next.State)
	}
	return next, nil
}

// Get returns the record of id, or nil when the id is not tracked.
func (m *Machine) Get(ctx context.Context, id string) (*VideoState, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load video state: %w", err)
	}
	return s, nil
}

// IsReady reports whether id is tracked and ready.
func (m *Machine) IsReady(ctx context.Context, id string) (bool, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s != nil && s.State == StateReady, nil
}

// Claim re-checks that id is ready and moves it to processing in one step.
// Call it immediately before privileged work on the video: readiness observed
// earlier in the request may be stale by now.
func (m *Machine) Claim(ctx context.Context, id string, owner string) (*VideoState, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load video state: %w", err)
	}
	if cur == nil {
		return nil, failure.New(failure.KindNotFound, "video %s not found", id)
	}
	if cur.State != StateReady {
		return nil, notReady(cur)
	}

	now := m.now()
	swapped, err := m.store.SwapState(ctx, id, StateReady, StateProcessing, now)
	if err != nil {
		return nil, fmt.Errorf("claim video: %w", err)
	}
	if !swapped {
		// Another process sharing the store got there first.
		latest, _ := m.store.Get(ctx, id)
		if latest == nil {
			latest = cur
		}
		return nil, notReady(latest)
	}

	m.metrics.Transition(string(StateReady), string(StateProcessing))
	m.logger.Info("video claimed", "video_id", id, "owner", owner)

	cur.State = StateProcessing
	cur.UpdatedAt = now
	return cur, nil
}

// Release ends a claim: back to ready when cause is nil, otherwise to error
// carrying the user-facing message of cause.
func (m *Machine) Release(ctx context.Context, id string, cause error) (*VideoState, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	if cause == nil {
		return m.transitionLocked(ctx, id, Update{State: ptr(StateReady), ClearError: true})
	}
	return m.transitionLocked(ctx, id, To(StateError).WithError(failure.Message(cause)))
}

// Busy lists ids whose files are in use by acquisition or processing.
func (m *Machine) Busy(ctx context.Context) (map[string]bool, error) {
	states, err := m.store.ListByState(ctx, StateAcquiring, StateProcessing)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(states))
	for _, s := range states {
		out[s.ID] = true
	}
	return out, nil
}

func notReady(s *VideoState) error {
	return failure.New(failure.KindVideoNotReady, "video is not ready (current state: %s)", s.State)
}

func ptr[T any](v T) *T { return &v }

// keyedMutex hands out one mutex per key and forgets it once nobody holds or
// waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

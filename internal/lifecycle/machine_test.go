package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ezclips/ezclips-server/internal/db"
	"github.com/ezclips/ezclips-server/internal/failure"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stores runs fn once against each Store implementation.
func stores(t *testing.T, fn func(t *testing.T, m *Machine)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMachine(NewMemoryStore(), testLogger(), nil))
	})
	t.Run("sqlite", func(t *testing.T) {
		database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
		if err != nil {
			t.Fatalf("db.New() error = %v", err)
		}
		t.Cleanup(func() { database.Close() })
		fn(t, NewMachine(NewSQLStore(database), testLogger(), nil))
	})
}

func TestMachine_InitializeAndGet(t *testing.T) {
	stores(t, func(t *testing.T, m *Machine) {
		ctx := context.Background()

		s, err := m.Initialize(ctx, "v1")
		if err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if s.State != StateIdle || s.Progress != 0 {
			t.Errorf("initial state = %s/%d, want idle/0", s.State, s.Progress)
		}

		if _, err := m.Initialize(ctx, "v1"); !errors.Is(err, failure.KindAlreadyExists) {
			t.Errorf("second Initialize() error = %v, want AlreadyExists", err)
		}

		got, err := m.Get(ctx, "v1")
		if err != nil || got == nil {
			t.Fatalf("Get() = %v, %v", got, err)
		}
		if got.State != StateIdle {
			t.Errorf("Get().State = %s", got.State)
		}

		missing, err := m.Get(ctx, "unknown-video-id")
		if err != nil {
			t.Errorf("Get(unknown) error = %v, want nil", err)
		}
		if missing != nil {
			t.Errorf("Get(unknown) = %+v, want nil", missing)
		}
	})
}

func TestMachine_TransitionMergesFields(t *testing.T) {
	stores(t, func(t *testing.T, m *Machine) {
		ctx := context.Background()
		m.Initialize(ctx, "v1")

		s, err := m.Transition(ctx, "v1", To(StateAcquiring).WithProgress(10))
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if s.State != StateAcquiring || s.Progress != 10 {
			t.Errorf("state = %s/%d, want acquiring/10", s.State, s.Progress)
		}

		progress := 55
		s, err = m.Transition(ctx, "v1", Update{Progress: &progress, Metadata: map[string]any{"strategy": "ios"}})
		if err != nil {
			t.Fatalf("progress-only Transition() error = %v", err)
		}
		if s.State != StateAcquiring || s.Progress != 55 {
			t.Errorf("state = %s/%d, want acquiring/55", s.State, s.Progress)
		}

		s, err = m.Transition(ctx, "v1", Update{Metadata: map[string]any{"duration": 300}})
		if err != nil {
			t.Fatal(err)
		}
		if s.Metadata["strategy"] != "ios" || s.Metadata["duration"] == nil {
			t.Errorf("metadata not merged: %v", s.Metadata)
		}
		if !s.UpdatedAt.After(s.CreatedAt) && !s.UpdatedAt.Equal(s.CreatedAt) {
			t.Errorf("UpdatedAt not stamped")
		}

		got, _ := m.Get(ctx, "v1")
		if got.Progress != 55 || got.Metadata["strategy"] != "ios" {
			t.Errorf("persisted record = %+v", got)
		}
	})
}

func TestMachine_TransitionRules(t *testing.T) {
	tests := []struct {
		name string
		path []State
		to   State
		ok   bool
	}{
		{"idle to acquiring", nil, StateAcquiring, true},
		{"idle to ready (upload)", nil, StateReady, true},
		{"idle to processing", nil, StateProcessing, false},
		{"acquiring to ready", []State{StateAcquiring}, StateReady, true},
		{"acquiring to error", []State{StateAcquiring}, StateError, true},
		{"acquiring to processing", []State{StateAcquiring}, StateProcessing, false},
		{"ready to processing", []State{StateReady}, StateProcessing, true},
		{"ready to acquiring", []State{StateReady}, StateAcquiring, false},
		{"processing to ready", []State{StateReady, StateProcessing}, StateReady, true},
		{"processing to error", []State{StateReady, StateProcessing}, StateError, true},
		{"error is terminal", []State{StateError}, StateReady, false},
		{"error to acquiring", []State{StateError}, StateAcquiring, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine(NewMemoryStore(), testLogger(), nil)
			m.Initialize(ctx, "v")
			for _, s := range tt.path {
				if _, err := m.Transition(ctx, "v", To(s)); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}

			_, err := m.Transition(ctx, "v", To(tt.to))
			if tt.ok && err != nil {
				t.Fatalf("Transition(%s) error = %v", tt.to, err)
			}
			if !tt.ok && !errors.Is(err, failure.KindInvalidTransition) {
				t.Fatalf("Transition(%s) error = %v, want InvalidTransition", tt.to, err)
			}
		})
	}
}

func TestMachine_TransitionUnknownID(t *testing.T) {
	stores(t, func(t *testing.T, m *Machine) {
		_, err := m.Transition(context.Background(), "ghost", To(StateReady))
		if !errors.Is(err, failure.KindNotFound) {
			t.Errorf("error = %v, want NotFound", err)
		}
	})
}

func TestMachine_ClaimRechecksReadiness(t *testing.T) {
	stores(t, func(t *testing.T, m *Machine) {
		ctx := context.Background()
		m.Initialize(ctx, "v1")
		m.Transition(ctx, "v1", To(StateReady).WithProgress(100))

		ready, err := m.IsReady(ctx, "v1")
		if err != nil || !ready {
			t.Fatalf("IsReady() = %v, %v", ready, err)
		}

		// The video fails between the readiness check and the privileged work.
		if _, err := m.Transition(ctx, "v1", To(StateError).WithError("file vanished")); err != nil {
			t.Fatal(err)
		}

		if _, err := m.Claim(ctx, "v1", "series"); !errors.Is(err, failure.KindVideoNotReady) {
			t.Fatalf("Claim() error = %v, want VideoNotReady", err)
		}
		got, _ := m.Get(ctx, "v1")
		if got.State != StateError {
			t.Errorf("state = %s, want error untouched", got.State)
		}
	})
}

func TestMachine_ClaimAndRelease(t *testing.T) {
	stores(t, func(t *testing.T, m *Machine) {
		ctx := context.Background()
		m.Initialize(ctx, "v1")
		m.Transition(ctx, "v1", To(StateReady))

		s, err := m.Claim(ctx, "v1", "series")
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if s.State != StateProcessing {
			t.Errorf("state = %s, want processing", s.State)
		}

		if _, err := m.Claim(ctx, "v1", "series"); !errors.Is(err, failure.KindVideoNotReady) {
			t.Errorf("second Claim() error = %v, want VideoNotReady", err)
		}

		s, err = m.Release(ctx, "v1", nil)
		if err != nil || s.State != StateReady {
			t.Fatalf("Release(nil) = %+v, %v", s, err)
		}

		m.Claim(ctx, "v1", "series")
		s, err = m.Release(ctx, "v1", failure.New(failure.KindCutFailed, "failed to cut clip 2"))
		if err != nil {
			t.Fatal(err)
		}
		if s.State != StateError || s.Error != "failed to cut clip 2" {
			t.Errorf("after failed release = %s/%q", s.State, s.Error)
		}
	})
}

func TestMachine_ClaimUnknown(t *testing.T) {
	m := NewMachine(NewMemoryStore(), testLogger(), nil)
	if _, err := m.Claim(context.Background(), "ghost", "x"); !errors.Is(err, failure.KindNotFound) {
		t.Errorf("error = %v, want NotFound", err)
	}
}

func TestMachine_ConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), testLogger(), nil)
	m.Initialize(ctx, "v1")
	m.Transition(ctx, "v1", To(StateReady))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Claim(ctx, "v1", "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("claims won = %d, want exactly 1", wins.Load())
	}
}

func TestMachine_Busy(t *testing.T) {
	stores(t, func(t *testing.T, m *Machine) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			m.Initialize(ctx, id)
		}
		m.Transition(ctx, "a", To(StateAcquiring))
		m.Transition(ctx, "b", To(StateReady))
		m.Claim(ctx, "b", "x")

		busy, err := m.Busy(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !busy["a"] || !busy["b"] || busy["c"] {
			t.Errorf("Busy() = %v, want a and b", busy)
		}
	})
}

func TestKeyedMutex_Forgets(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.lock("x")
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks retained after release: %d", len(k.locks))
	}
}

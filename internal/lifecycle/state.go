// Package lifecycle is the video state machine: one authoritative status per
// video id, independent of which subsystem is acting on the video.
package lifecycle

import "time"

type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateError      State = "error"
)

// transitions lists the legal state changes. Error has no way out: a new
// attempt gets a new video id.
var transitions = map[State][]State{
	StateIdle:       {StateAcquiring, StateReady, StateError},
	StateAcquiring:  {StateReady, StateError},
	StateReady:      {StateProcessing, StateError},
	StateProcessing: {StateReady, StateError},
}

// CanTransition reports whether from -> to is legal. Staying in the same
// state is always allowed so progress can be updated.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Valid() bool {
	switch s {
	case StateIdle, StateAcquiring, StateProcessing, StateReady, StateError:
		return true
	}
	return false
}

// VideoState is the lifecycle record of one video.
type VideoState struct {
	ID        string         `json:"id"`
	State     State          `json:"state"`
	Progress  int            `json:"progress"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (v *VideoState) clone() *VideoState {
	c := *v
	if v.Metadata != nil {
		c.Metadata = make(map[string]any, len(v.Metadata))
		for k, val := range v.Metadata {
			c.Metadata[k] = val
		}
	}
	return &c
}

// Update is a partial change merged by Machine.Transition. Nil fields keep
// their current value. ClearError drops a previous error message.
type Update struct {
	State      *State
	Progress   *int
	Error      *string
	ClearError bool
	Metadata   map[string]any
}

// To is shorthand for an Update that only changes the state.
func To(s State) Update {
	return Update{State: &s}
}

// WithProgress returns a copy of u that also sets progress.
func (u Update) WithProgress(p int) Update {
	u.Progress = &p
	return u
}

// WithError returns a copy of u that also sets the error message.
func (u Update) WithError(msg string) Update {
	u.Error = &msg
	return u
}

// Package jobs runs named background jobs and tracks their state and progress.
// The Queue interface has an in-process implementation (LocalQueue) and a
// RabbitMQ-backed one (BrokerQueue); callers never know which is in use.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further change can happen to a job in s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one unit of asynchronous work. Payload holds everything needed to
// repeat the work, so any worker process can run it.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	Progress     int             `json:"progress"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	return &c
}

// FailedError is what Wait returns for a job that ended in failure. Its text
// is the failure reason recorded on the job.
type FailedError struct {
	JobID  string
	Reason string
}

func (e *FailedError) Error() string {
	return e.Reason
}

// Package task persists Task records and transitions their status
// atomically. It is the system's only durable state: the repository's
// `status` column is authoritative for the orchestrator's state machine.
package task

import "time"

// Status is one of the four states a Task can occupy. Transitions are
// restricted to PENDING -> PROCESSING -> {COMPLETED, FAILED}; PROCESSING ->
// PROCESSING is permitted (idempotent re-entry after a crash), and the two
// terminal states are immutable.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the unit of durable work: one uploaded source video through its
// terminal outcome.
type Task struct {
	ID           int64
	SourceFile   string
	SourceSize   int64
	OutputFile   *string
	OutputSize   *int64
	Status       Status
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

package task

import (
	"context"
	"errors"
)

// ErrFinished is returned by Claim when the task is already in a terminal
// state (COMPLETED or FAILED). Handlers treat this as success: it means a
// redelivered message's work already happened.
var ErrFinished = errors.New("task: already finished")

// ErrNotFound is returned by Get when no task exists with the given id.
var ErrNotFound = errors.New("task: not found")

// ListFilter narrows List to a subset of statuses; a nil/empty Statuses
// matches every status.
type ListFilter struct {
	Statuses []Status
	Limit    int
	Offset   int
}

// Repository is the narrow persistence interface the orchestrator and API
// depend on. Every mutating method runs in a single transaction and
// refreshes UpdatedAt.
type Repository interface {
	// Create inserts a new task with status PENDING.
	Create(ctx context.Context, sourceFile string, sourceSize int64) (*Task, error)

	// Claim atomically transitions a task from PENDING or PROCESSING to
	// PROCESSING (a compare-and-set), returning the claimed Task. If the
	// task is already terminal, it returns ErrFinished instead.
	Claim(ctx context.Context, id int64) (*Task, error)

	// MarkCompleted transitions a task from PROCESSING to COMPLETED,
	// recording the encoded output's key and size.
	MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) (*Task, error)

	// MarkFailed transitions a task from PROCESSING to FAILED, recording
	// the failure detail.
	MarkFailed(ctx context.Context, id int64, errorMessage string) (*Task, error)

	// Get returns a single task by id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Task, error)

	// List returns tasks matching filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
}

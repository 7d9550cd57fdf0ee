package queue

import "errors"

var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("queue: not found")

	// ErrInvalidTransition indicates a status change that is not one step
	// forward along the pipeline chain.
	ErrInvalidTransition = errors.New("queue: invalid status transition")

	// ErrCheckpointSet indicates an attempt to record a stage checkpoint
	// that has already been written. Checkpoints are set exactly once.
	ErrCheckpointSet = errors.New("queue: checkpoint already set")

	// ErrAttemptsExhausted indicates a requeue would exceed the job's
	// attempt budget. The job is failed instead of requeued.
	ErrAttemptsExhausted = errors.New("queue: attempts exhausted")
)

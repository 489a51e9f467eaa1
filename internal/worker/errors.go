package worker

import "errors"

var (
	// ErrUnknownJobKind means no runner is registered for the job's kind.
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrInvalidPayload means the claimed job's payload could not be decoded.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrJobPanicked wraps a panic recovered while running a job.
	ErrJobPanicked = errors.New("job panicked")

	// ErrAlreadyRunning is returned when Run is called on a worker whose loop is active.
	ErrAlreadyRunning = errors.New("worker already running")
)

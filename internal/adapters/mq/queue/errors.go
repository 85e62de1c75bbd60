package queue

import "errors"

// Sentinel errors for queue producers.
var (
	ErrQueueFull = errors.New("job queue full")
	ErrClosed    = errors.New("job queue closed")
)

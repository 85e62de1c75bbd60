package bulk

import (
	"time"

	"github.com/okian/maap/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds how many employees are processed at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRetry sets how many attempts a persistence failure gets and the base
// backoff, which doubles after every retry.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			o.backoff = backoff
		}
	}
}

// WithSnapshotCreator enables RunForEmployees.
func WithSnapshotCreator(c SnapshotCreator) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.creator = c
		}
	}
}

// WithClock sets the time source for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

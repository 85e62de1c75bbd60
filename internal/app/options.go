package service

import (
	"time"

	"github.com/okian/maap/internal/adapters/archive"
	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the entity store. It is required.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = repository.Instrument(store)
		}
	}
}

// WithArchive enables report archival.
func WithArchive(a *archive.ReportArchive) Option {
	return func(s *Service) {
		if a != nil {
			s.archive = a
		}
	}
}

// WithBatchConcurrency bounds employees finalized in parallel within one batch.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// WithRetry sets how often a persistence failure is retried and the base backoff.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithQueueSize sets the maximum number of queued batch jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of batch job workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithDedupeSize sets how many batch request ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

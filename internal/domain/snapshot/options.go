package snapshot

import (
	"time"

	"github.com/okian/maap/internal/domain/maap"
	"github.com/okian/maap/pkg/logger"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock sets the time source for created_at, processed_at and default effective dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBuilder replaces the maap data builder.
func WithBuilder(b *maap.Builder) Option {
	return func(s *Store) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

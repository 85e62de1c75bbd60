package maap

import (
	"time"

	"github.com/okian/maap/pkg/logger"
)

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithClock sets the time source used when no as-of instant is given.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the builder logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

package finalize

import (
	"time"

	"github.com/okian/maap/pkg/logger"
)

// Option applies a configuration option to the Processor.
type Option func(*Processor)

// WithClock sets the time source for processed_at and completion stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the processor logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

package archive

import "github.com/okian/maap/pkg/logger"

// Option applies a configuration option to the ReportArchive.
type Option func(*ReportArchive)

// WithCompression selects CompressionNone or CompressionZstd.
func WithCompression(c string) Option {
	return func(a *ReportArchive) {
		if c != "" {
			a.compression = c
		}
	}
}

// WithLogger sets the archive logger.
func WithLogger(l logger.Logger) Option {
	return func(a *ReportArchive) {
		if l != nil {
			a.log = l
		}
	}
}

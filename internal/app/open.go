package service

import (
	"context"
	"fmt"

	"github.com/okian/maap/internal/adapters/archive"
	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/adapters/repository/memory"
	"github.com/okian/maap/internal/adapters/repository/sqlstore"
	"github.com/okian/maap/internal/config"
	"github.com/okian/maap/pkg/logger"
)

// OpenStore opens the entity store selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...sqlstore.Option) (repository.Store, error) {
	opts = append([]sqlstore.Option{sqlstore.WithMaxOpenConns(cfg.MaxOpenConns)}, opts...)

	var driver, dsn string
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		driver, dsn = sqlstore.DriverSQLite, cfg.SQLitePath
	case config.StorePostgres:
		driver, dsn = sqlstore.DriverPostgres, cfg.PostgresDSN
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnsupportedDriver, cfg.StoreDriver)
	}
	store, err := sqlstore.Open(ctx, driver, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenArchive opens the report archive selected by cfg. It returns nil when
// archiving is disabled.
func OpenArchive(ctx context.Context, cfg *config.Config) (*archive.ReportArchive, error) {
	return archive.Open(ctx, archive.Config{
		Driver:      cfg.ArchiveDriver,
		FSRoot:      cfg.ArchiveFSRoot,
		Compression: cfg.ArchiveCompression,
		S3: archive.S3Config{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveS3Endpoint,
			PathStyle: cfg.ArchiveS3PathStyle,
		},
	}, archive.WithLogger(logger.Named("archive")))
}

// Open builds a Service from cfg: it opens the store and archive and applies
// the batch, queue and dedupe settings. Extra options are applied last.
// The returned service is not started.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	arc, err := OpenArchive(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	base := []Option{
		WithStore(store),
		WithArchive(arc),
		WithBatchConcurrency(cfg.BatchConcurrency),
		WithRetry(cfg.BatchMaxAttempts, cfg.RetryBackoff()),
		WithQueueSize(cfg.JobQueueSize),
		WithWorkerCount(cfg.JobWorkerCount),
		WithDedupeSize(cfg.DedupeSize),
	}
	return New(append(base, opts...)...), nil
}

// Package service provides the core business service that implements
// the dependencies required by the HTTP API and the operator CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/maap/internal/adapters/archive"
	"github.com/okian/maap/internal/adapters/mq/queue"
	"github.com/okian/maap/internal/adapters/mq/worker"
	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/bulk"
	"github.com/okian/maap/internal/domain/changes"
	"github.com/okian/maap/internal/domain/dedupe"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/finalize"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/internal/domain/types"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

// Service implements the API dependencies for snapshot capture and finalization.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	archive   *archive.ReportArchive
	snapshots *snapshot.Store
	finalizer *finalize.Processor
	bulk      *bulk.Orchestrator
	deduper   dedupe.Deduper
	jobQueue  *queue.InMemoryQueue
	registry  *worker.Registry
	pool      *worker.Pool

	// Configuration
	batchConcurrency int
	maxAttempts      int
	backoff          time.Duration
	queueSize        int
	workerCount      int
	dedupeSize       int
	now              func() time.Time

	// State
	started bool
	closed  bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		batchConcurrency: runtime.NumCPU(),
		maxAttempts:      3,
		backoff:          50 * time.Millisecond,
		queueSize:        1024,
		workerCount:      2,
		dedupeSize:       10_000,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the components and starts the batch workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.closed {
		return ErrStopped
	}
	if s.store == nil {
		return ErrNoStore
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting maap service...")

	s.snapshots = snapshot.New(s.store,
		snapshot.WithClock(s.now),
		snapshot.WithLogger(logger.Named("snapshot")),
	)
	s.finalizer = finalize.New(s.store,
		finalize.WithClock(s.now),
		finalize.WithLogger(logger.Named("finalize")),
	)
	s.bulk = bulk.New(s.finalizer,
		bulk.WithConcurrency(s.batchConcurrency),
		bulk.WithRetry(s.maxAttempts, s.backoff),
		bulk.WithSnapshotCreator(s.snapshots),
		bulk.WithClock(s.now),
		bulk.WithLogger(logger.Named("bulk")),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.jobQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.registry = worker.NewRegistry(s.queueSize + s.workerCount)

	workerOpts := []worker.Option{worker.WithLogger(logger.Named("worker"))}
	if s.archive != nil {
		workerOpts = append(workerOpts, worker.WithArchiver(s.archive))
	}
	s.pool = worker.NewPool(s.workerCount, s.jobQueue, s.bulk, s.registry, workerOpts...)

	// Workers outlive the caller's context and stop with Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "maap service started",
		logger.String("store", s.store.Driver()),
		logger.String("archive", s.archiveDriver()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("batchConcurrency", s.batchConcurrency),
	)
	return nil
}

// Stop drains queued jobs, stops the workers and closes the store. It also
// releases the store of a service that never started, so callers may pair
// every successful New or Open with one Stop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if !s.started {
		s.closeStore(ctx)
		return
	}
	s.logger.Info(ctx, "stopping maap service...")

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.closeStore(ctx)

	s.started = false
	s.logger.Info(ctx, "maap service stopped")
}

func (s *Service) closeStore(ctx context.Context) {
	if s.store == nil || s.closed {
		return
	}
	s.closed = true
	if err := s.store.Close(); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "closing store", logger.Error(err))
	}
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// CreateSnapshot captures the employee's maap data next to the submitted form params.
func (s *Service) CreateSnapshot(ctx context.Context, req snapshot.CreateRequest) (model.Snapshot, error) {
	if err := s.ready(); err != nil {
		return model.Snapshot{}, err
	}
	return s.snapshots.Create(ctx, req)
}

// GetSnapshot returns one snapshot.
func (s *Service) GetSnapshot(ctx context.Context, id int64) (model.Snapshot, error) {
	if err := s.ready(); err != nil {
		return model.Snapshot{}, err
	}
	return s.snapshots.Get(ctx, id)
}

// ListSnapshots returns snapshots matching filter.
func (s *Service) ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, filter)
}

// PreviewChanges merges a snapshot's form params over current state without writing.
func (s *Service) PreviewChanges(ctx context.Context, id int64) (changes.ChangeRequest, error) {
	if err := s.ready(); err != nil {
		return changes.ChangeRequest{}, err
	}
	return s.snapshots.Changes(ctx, id)
}

// Finalize applies one snapshot.
func (s *Service) Finalize(ctx context.Context, id int64) (finalize.Result, error) {
	if err := s.ready(); err != nil {
		return finalize.Result{}, err
	}
	return s.finalizer.Process(ctx, id)
}

// RunBatch finalizes the request synchronously and archives the report.
func (s *Service) RunBatch(ctx context.Context, req types.BatchRequest) (model.Report, error) {
	const op = "service.RunBatch"

	if err := s.ready(); err != nil {
		return model.Report{}, err
	}
	if err := req.Validate(); err != nil {
		return model.Report{}, fault.Wrap(op, fault.KindValidation, err)
	}

	var (
		report model.Report
		err    error
	)
	if req.Employees != nil && len(req.Employees.Employees) > 0 {
		report, err = s.bulk.RunForEmployees(ctx, *req.Employees)
	} else {
		report = s.bulk.RunBatch(ctx, req.SnapshotIDs)
	}
	if err != nil {
		return model.Report{}, err
	}

	if s.archive != nil {
		// The caller already has the report; an archive failure is only logged.
		if _, err := s.archive.Save(ctx, report); err != nil {
			s.logger.Warn(ctx, "report not archived", logger.String("report_id", report.ID), logger.Error(err))
		}
	}
	return report, nil
}

// SubmitBatch queues the request for a worker. A request id already seen
// returns the job it started and true.
func (s *Service) SubmitBatch(ctx context.Context, req types.BatchRequest) (model.JobRecord, bool, error) {
	const op = "service.SubmitBatch"

	if err := s.ready(); err != nil {
		return model.JobRecord{}, false, err
	}
	if err := req.Validate(); err != nil {
		return model.JobRecord{}, false, fault.Wrap(op, fault.KindValidation, err)
	}

	jobID := uuid.NewString()
	if req.RequestID != "" {
		if prev, dup := s.deduper.Claim(ctx, req.RequestID, jobID); dup {
			s.logger.Debug(ctx, "duplicate batch request",
				logger.String("request_id", req.RequestID),
				logger.String("job_id", prev),
			)
			if rec, ok := s.registry.Get(prev); ok {
				return rec, true, nil
			}
			return model.JobRecord{ID: prev, RequestID: req.RequestID}, true, nil
		}
	}

	job := req.Job(jobID, s.now())
	rec := s.registry.Submit(job)
	if !s.jobQueue.Enqueue(ctx, job) {
		s.registry.Forget(jobID)
		if req.RequestID != "" {
			s.deduper.Release(ctx, req.RequestID)
		}
		if s.jobQueue.IsClosed() {
			return model.JobRecord{}, false, queue.ErrClosed
		}
		return model.JobRecord{}, false, queue.ErrQueueFull
	}

	s.logger.Info(ctx, "batch job queued",
		logger.String("job_id", jobID),
		logger.String("request_id", req.RequestID),
		logger.Int("size", job.Size()),
	)
	return rec, false, nil
}

// BatchStatus returns a tracked job, or an archived report by id once the
// job is no longer tracked.
func (s *Service) BatchStatus(ctx context.Context, id string) (model.JobRecord, error) {
	const op = "service.BatchStatus"

	if err := s.ready(); err != nil {
		return model.JobRecord{}, err
	}
	if rec, ok := s.registry.Get(id); ok {
		return rec, nil
	}
	if s.archive == nil {
		return model.JobRecord{}, fault.Wrap(op, fault.KindNotFound, fmt.Errorf("%w: %s", ErrJobUnknown, id))
	}

	report, err := s.archive.Find(ctx, id)
	switch {
	case errors.Is(err, archive.ErrNotFound), errors.Is(err, archive.ErrInvalidKey):
		return model.JobRecord{}, fault.Wrap(op, fault.KindNotFound, fmt.Errorf("%w: %s", ErrJobUnknown, id))
	case err != nil:
		return model.JobRecord{}, fault.Wrap(op, fault.KindPersistence, err)
	}
	finished := report.FinishedAt
	return model.JobRecord{
		ID:          report.ID,
		Status:      model.JobCompleted,
		Size:        len(report.Results),
		SubmittedAt: report.StartedAt,
		StartedAt:   &report.StartedAt,
		FinishedAt:  &finished,
		Report:      &report,
		ArchiveKey:  s.archive.Key(report),
	}, nil
}

func (s *Service) archiveDriver() string {
	if s.archive == nil {
		return archive.DriverNone
	}
	return s.archive.Driver()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"queueCapacity":    s.queueSize,
		"batchConcurrency": s.batchConcurrency,
		"maxAttempts":      s.maxAttempts,
		"archive":          s.archiveDriver(),
	}

	if s.started {
		queueLen := s.jobQueue.Len(context.Background())
		counts := s.registry.Counts()

		stats["store"] = s.store.Driver()
		stats["queueLength"] = queueLen
		stats["dedupeSize"] = s.deduper.Size()
		stats["jobs"] = map[string]int{
			string(model.JobQueued):    counts[model.JobQueued],
			string(model.JobRunning):   counts[model.JobRunning],
			string(model.JobCompleted): counts[model.JobCompleted],
			string(model.JobFailed):    counts[model.JobFailed],
		}

		metrics.UpdateJobQueueSize(queueLen, s.queueSize)
		metrics.UpdateWorkerActiveCount(s.workerCount)
	}

	return stats
}

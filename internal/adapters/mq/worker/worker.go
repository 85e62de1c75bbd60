package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/maap/internal/adapters/mq/queue"
	"github.com/okian/maap/internal/domain/bulk"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// ErrEmptyJob is recorded for jobs naming neither snapshots nor employees.
var ErrEmptyJob = errors.New("batch job has no snapshots or employees")

// Runner executes batch finalization.
type Runner interface {
	RunBatch(ctx context.Context, snapshotIDs []int64) model.Report
	RunForEmployees(ctx context.Context, req model.EmployeeBatchRequest) (model.Report, error)
}

// Archiver stores finished reports and returns their key.
type Archiver interface {
	Save(ctx context.Context, r model.Report) (string, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes batch jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in progress.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker over a Queue.
type InMemoryWorker struct {
	queue    Queue
	runner   Runner
	registry *Registry
	archiver Archiver
	name     string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, runner Runner, registry *Registry, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		runner:   runner,
		registry: registry,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.processJob(ctx, job); err != nil {
				w.logger.Error(ctx, "batch job failed", logger.String("job_id", job.ID), logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker. Repeated calls are safe.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob runs one job and records its outcome in the registry.
func (w *InMemoryWorker) processJob(ctx context.Context, job queue.Job) error { //nolint:gocritic // hugeParam: Job must be passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	w.registry.start(job.ID, start)
	w.logger.Info(ctx, "batch job started", logger.String("job_id", job.ID), logger.Int("size", job.Size()))

	// The report is archived under the job id so status lookups outlive the registry.
	ctx = bulk.WithReportID(ctx, job.ID)

	var (
		report model.Report
		err    error
	)
	switch {
	case job.Employees != nil:
		report, err = w.runner.RunForEmployees(ctx, *job.Employees)
	case len(job.SnapshotIDs) > 0:
		report = w.runner.RunBatch(ctx, job.SnapshotIDs)
	default:
		err = ErrEmptyJob
	}
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "job_error")
		w.registry.fail(job.ID, err, time.Now())
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	var key string
	if w.archiver != nil {
		// A report that could not be archived is still served from the registry.
		if key, err = w.archiver.Save(ctx, report); err != nil {
			metrics.RecordErrorByComponent("worker", "archive_error")
			w.logger.Warn(ctx, "report not archived", logger.String("job_id", job.ID), logger.Error(err))
		}
	}
	w.registry.complete(job.ID, report, key, time.Now())
	w.logger.Info(ctx, "batch job completed",
		logger.String("job_id", job.ID),
		logger.String("report_id", report.ID),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", report.Failed),
	)
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing q, runner and registry.
// A non-positive count uses one worker per CPU.
func NewPool(workerCount int, q Queue, runner Runner, registry *Registry, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, runner, registry, workerOpts...)
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, lets workers drain it and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}

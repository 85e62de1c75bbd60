// Package bulk finalizes many snapshots with per-employee failure isolation.
package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/finalize"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

const (
	op = "bulk.Run"

	defaultConcurrency = 4
	defaultMaxAttempts = 3
	defaultBackoff     = 50 * time.Millisecond
)

type reportIDKey struct{}

// WithReportID returns a context whose batch run reports under id instead of
// a fresh one. Async jobs use it so the archived report is found by job id.
func WithReportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reportIDKey{}, id)
}

// ReportIDFrom returns the report id set by WithReportID.
func ReportIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(reportIDKey{}).(string)
	return id, ok && id != ""
}

// Finalizer applies one snapshot.
type Finalizer interface {
	Process(ctx context.Context, snapshotID int64) (finalize.Result, error)
}

// SnapshotCreator captures a snapshot for one employee.
type SnapshotCreator interface {
	Create(ctx context.Context, req snapshot.CreateRequest) (model.Snapshot, error)
}

// Orchestrator runs finalization across many employees. A failing employee
// is recorded in the report and never stops the others.
type Orchestrator struct {
	finalizer   Finalizer
	creator     SnapshotCreator
	concurrency int
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	log         logger.Logger
}

// New returns an Orchestrator finalizing through f.
func New(f Finalizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		finalizer:   f,
		concurrency: defaultConcurrency,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		now:         time.Now,
		log:         logger.Get().Named("bulk"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// unit is one employee's work. When create is set a snapshot is captured
// before it is finalized. A unit with rejected set fails without running.
type unit struct {
	snapshotID int64
	employeeID int64
	create     *snapshot.CreateRequest
	rejected   error
}

// RunBatch finalizes the snapshots and returns one result per id in input
// order. A repeated id fails with a validation error and only its first
// occurrence is finalized.
func (o *Orchestrator) RunBatch(ctx context.Context, snapshotIDs []int64) model.Report {
	units := make([]unit, len(snapshotIDs))
	first := make(map[int64]int, len(snapshotIDs))
	for i, id := range snapshotIDs {
		units[i] = unit{snapshotID: id}
		if j, ok := first[id]; ok {
			units[i].rejected = fault.New(op, fault.KindValidation, "snapshot %d repeats batch index %d", id, j)
			continue
		}
		first[id] = i
	}
	return o.run(ctx, units)
}

// RunForEmployees captures one snapshot per employee and finalizes it. A
// snapshot that cannot be built fails that employee only. The request itself
// is rejected when its change type is unknown or no creator is configured.
func (o *Orchestrator) RunForEmployees(ctx context.Context, req model.EmployeeBatchRequest) (model.Report, error) {
	if o.creator == nil {
		return model.Report{}, fault.Wrap(op, fault.KindInternal, ErrNoCreator)
	}
	ct, err := model.ParseChangeType(req.ChangeType)
	if err != nil {
		return model.Report{}, fault.Wrap(op, fault.KindValidation, err)
	}
	if !ct.Finalizable() {
		return model.Report{}, fault.New(op, fault.KindValidation, "change type %q cannot be finalized", ct)
	}
	seen := make(map[int64]bool, len(req.Employees))
	for _, e := range req.Employees {
		if seen[e.EmployeeID] {
			return model.Report{}, fault.Wrap(op, fault.KindValidation, fmt.Errorf("%w: %d", ErrDuplicateEmployee, e.EmployeeID))
		}
		seen[e.EmployeeID] = true
	}

	units := make([]unit, len(req.Employees))
	for i, e := range req.Employees {
		units[i] = unit{
			employeeID: e.EmployeeID,
			create: &snapshot.CreateRequest{
				EmployeeID:    e.EmployeeID,
				CreatedByID:   req.CreatedByID,
				ChangeType:    string(ct),
				Reason:        req.Reason,
				FormParams:    e.FormParams,
				EffectiveDate: req.EffectiveDate,
			},
		}
	}
	return o.run(ctx, units), nil
}

func (o *Orchestrator) run(ctx context.Context, units []unit) model.Report {
	start := time.Now()
	metrics.AddBatchInFlight(1)
	defer metrics.AddBatchInFlight(-1)

	id, ok := ReportIDFrom(ctx)
	if !ok {
		id = uuid.NewString()
	}
	report := model.Report{
		ID:        id,
		StartedAt: o.now(),
		Results:   make([]model.BatchResult, len(units)),
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			report.Results[i] = canceled(i, u, err)
			continue
		}
		g.Go(func() error {
			report.Results[i] = o.runUnit(ctx, i, u)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.now()
	report.Tally()
	metrics.RecordBatchRun(len(units), float64(time.Since(start).Milliseconds()))
	o.log.Info(ctx, "batch finished",
		logger.String("batch_id", report.ID),
		logger.Int("size", len(units)),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", report.Failed),
		logger.Int("already_processed", report.AlreadyProcessed),
	)
	return report
}

func canceled(index int, u unit, err error) model.BatchResult {
	return model.BatchResult{
		Index:      index,
		SnapshotID: u.snapshotID,
		EmployeeID: u.employeeID,
		ErrorKind:  string(fault.KindCanceled),
		Message:    "not started: " + err.Error(),
	}
}

func (o *Orchestrator) runUnit(ctx context.Context, index int, u unit) model.BatchResult {
	if err := ctx.Err(); err != nil {
		return canceled(index, u, err)
	}
	res := model.BatchResult{Index: index, SnapshotID: u.snapshotID, EmployeeID: u.employeeID}
	if u.rejected != nil {
		return o.fail(ctx, res, u.rejected)
	}

	if u.create != nil {
		attempts, err := o.attempt(ctx, func(ctx context.Context) error {
			snap, err := o.creator.Create(ctx, *u.create)
			res.SnapshotID = snap.ID
			return err
		})
		res.Attempts = attempts
		if err != nil {
			return o.fail(ctx, res, err)
		}
	}

	var out finalize.Result
	attempts, err := o.attempt(ctx, func(ctx context.Context) error {
		var err error
		out, err = o.finalizer.Process(ctx, res.SnapshotID)
		return err
	})
	res.Attempts += attempts
	if out.EmployeeID != 0 {
		res.EmployeeID = out.EmployeeID
	}

	switch {
	case err == nil:
		res.Success = true
		res.ProcessedAt = out.ProcessedAt
	case fault.Is(err, fault.KindAlreadyProcessed):
		res.Success = true
		res.AlreadyProcessed = true
		res.ProcessedAt = out.ProcessedAt
		res.Message = err.Error()
	default:
		return o.fail(ctx, res, err)
	}
	return res
}

func (o *Orchestrator) fail(ctx context.Context, res model.BatchResult, err error) model.BatchResult {
	kind := fault.KindOf(err)
	res.Success = false
	res.ErrorKind = string(kind)
	res.Message = err.Error()
	metrics.RecordErrorByComponent("bulk", string(kind))
	o.log.Warn(ctx, "employee failed in batch",
		logger.Int("index", res.Index),
		logger.Int64("snapshot_id", res.SnapshotID),
		logger.Int64("employee_id", res.EmployeeID),
		logger.String("kind", string(kind)),
		logger.Error(err),
	)
	return res
}

// attempt runs fn until it succeeds, fails with a non-retryable error or
// runs out of attempts. Panics become internal errors.
func (o *Orchestrator) attempt(ctx context.Context, fn func(context.Context) error) (int, error) {
	delay := o.backoff
	for n := 1; ; n++ {
		err := guard(ctx, fn)
		if err == nil || !fault.Retryable(err) || n >= o.maxAttempts {
			return n, err
		}
		metrics.RecordBatchRetry()
		o.log.Debug(ctx, "retrying after persistence failure", logger.Int("attempt", n), logger.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return n, fault.Wrap(op, fault.KindCanceled, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}

func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(op, fault.KindInternal, "panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Package maap derives the per-assignment state captured by a snapshot.
package maap

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

const (
	op = "maap.Build"

	minEnergy = 0
	maxEnergy = 100
)

// Builder computes maap data from persisted assignment tenures only.
type Builder struct {
	now func() time.Time
	log logger.Logger
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns one entry per assignment tenure of the employee active at asOf,
// ordered by assignment id. A zero asOf means now. Any tenure that cannot be
// represented faithfully fails the whole build.
func (b *Builder) Build(ctx context.Context, r repository.Reader, employeeID int64, asOf time.Time) (model.MaapData, error) {
	start := time.Now()
	data, err := b.build(ctx, r, employeeID, asOf)
	if err != nil {
		if fault.KindOf(err) == fault.KindConstruction {
			metrics.RecordConstructionError()
		}
		if b.log != nil {
			b.log.Warn(ctx, "maap data build failed", logger.Int64("employee_id", employeeID), logger.Error(err))
		}
		return nil, err
	}
	metrics.RecordSnapshotBuildLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	return data, nil
}

func (b *Builder) build(ctx context.Context, r repository.Reader, employeeID int64, asOf time.Time) (model.MaapData, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(op, fault.KindCanceled, err)
	}
	if asOf.IsZero() {
		asOf = b.now()
	}

	if _, err := r.Employee(ctx, employeeID); err != nil {
		return nil, classify(err, "employee %d cannot be resolved", employeeID)
	}
	if _, err := r.ActiveEmploymentTenure(ctx, employeeID, asOf); err != nil {
		return nil, classify(err, "employee %d has no active employment tenure at %s", employeeID, asOf.UTC().Format(time.RFC3339))
	}

	tenures, err := r.ActiveAssignmentTenures(ctx, employeeID, asOf)
	if err != nil {
		return nil, fault.Wrap(op, fault.KindPersistence, err)
	}

	data := make(model.MaapData, 0, len(tenures))
	seen := make(map[int64]int64, len(tenures))
	for _, t := range tenures {
		if err := b.check(ctx, r, employeeID, t, seen); err != nil {
			return nil, err
		}
		data = append(data, model.MaapEntry{
			AssignmentID:                t.AssignmentID,
			AnticipatedEnergyPercentage: t.AnticipatedEnergyPercentage,
			OfficialRating:              t.OfficialRating,
		})
	}

	sort.Slice(data, func(i, j int) bool { return data[i].AssignmentID < data[j].AssignmentID })
	return data, nil
}

// check rejects a tenure that cannot be represented in maap data.
func (b *Builder) check(ctx context.Context, r repository.Reader, employeeID int64, t model.AssignmentTenure, seen map[int64]int64) error {
	switch {
	case t.EmployeeID != employeeID:
		return fault.New(op, fault.KindConstruction, "assignment tenure %d belongs to employee %d, not %d", t.ID, t.EmployeeID, employeeID)
	case t.AssignmentID <= 0:
		return fault.New(op, fault.KindConstruction, "assignment tenure %d has invalid assignment id %d", t.ID, t.AssignmentID)
	case t.AnticipatedEnergyPercentage < minEnergy || t.AnticipatedEnergyPercentage > maxEnergy:
		return fault.New(op, fault.KindConstruction, "assignment tenure %d: %v: %d", t.ID, model.ErrEnergyOutOfRange, t.AnticipatedEnergyPercentage)
	case !t.OfficialRating.Valid():
		return fault.New(op, fault.KindConstruction, "assignment tenure %d: %v: %q", t.ID, model.ErrUnknownRating, t.OfficialRating)
	}
	if other, dup := seen[t.AssignmentID]; dup {
		return fault.New(op, fault.KindConstruction, "assignment tenures %d and %d are both active for assignment %d", other, t.ID, t.AssignmentID)
	}
	seen[t.AssignmentID] = t.ID

	if _, err := r.Assignment(ctx, t.AssignmentID); err != nil {
		return classify(err, "assignment tenure %d references unknown assignment %d", t.ID, t.AssignmentID)
	}
	return nil
}

// classify turns a missing record into a construction error and anything else into a persistence error.
func classify(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fault.New(op, fault.KindConstruction, format, args...)
	}
	return fault.Wrap(op, fault.KindPersistence, err)
}

// Package repository defines the entity gateway used by the snapshot engine.
package repository

import (
	"context"
	"time"

	"github.com/okian/maap/internal/domain/model"
)

// Reader exposes the live records the snapshot engine reads.
// Lookups of a single record return ErrNotFound when it is absent.
type Reader interface {
	Employee(ctx context.Context, id int64) (model.Employee, error)
	// ActiveEmploymentTenure returns the employment tenure covering at.
	ActiveEmploymentTenure(ctx context.Context, employeeID int64, at time.Time) (model.EmploymentTenure, error)
	// ActiveAssignmentTenures returns every assignment tenure of the employee covering at, by id.
	ActiveAssignmentTenures(ctx context.Context, employeeID int64, at time.Time) ([]model.AssignmentTenure, error)
	Assignment(ctx context.Context, id int64) (model.Assignment, error)
	Ability(ctx context.Context, id int64) (model.Ability, error)
	// OpenCheckIn returns the check-in of the pair whose official completion is unset.
	OpenCheckIn(ctx context.Context, employeeID, assignmentID int64) (model.CheckIn, error)
	// Milestones returns the employee's milestones ordered by attained time then id.
	Milestones(ctx context.Context, employeeID int64) ([]model.Milestone, error)
	Snapshot(ctx context.Context, id int64) (model.Snapshot, error)
	// ListSnapshots returns matching snapshots ordered by id.
	ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error)
	// LastProcessedAt returns the latest processed_at among the employee's
	// snapshots other than exclude, or nil when there is none.
	LastProcessedAt(ctx context.Context, employeeID, exclude int64) (*time.Time, error)
}

// Tx is a read-write unit of work. Put methods insert when the id is zero
// (assigning it) and replace the record otherwise.
type Tx interface {
	Reader

	PutEmployee(ctx context.Context, e *model.Employee) error
	PutEmploymentTenure(ctx context.Context, t *model.EmploymentTenure) error
	PutAssignment(ctx context.Context, a *model.Assignment) error
	PutAssignmentTenure(ctx context.Context, t *model.AssignmentTenure) error
	PutAbility(ctx context.Context, a *model.Ability) error
	// SaveCheckIn inserts or updates a check-in. Inserting a second open
	// check-in for one pair returns ErrDuplicateOpen.
	SaveCheckIn(ctx context.Context, c *model.CheckIn) error
	UpdateAssignmentTenureRating(ctx context.Context, tenureID int64, rating model.Rating) error
	CreateMilestone(ctx context.Context, m *model.Milestone) error
	InsertSnapshot(ctx context.Context, s *model.Snapshot) error
	// MarkSnapshotProcessed sets processed_at only when it is unset and
	// returns ErrAlreadyProcessed otherwise.
	MarkSnapshotProcessed(ctx context.Context, id int64, at time.Time) error
}

// Store provides read views and atomic transactions over the live records.
type Store interface {
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(r Reader) error) error
	// RunInTransaction runs fn atomically: every write commits or none does.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	// Driver names the backing implementation.
	Driver() string
	Close() error
}

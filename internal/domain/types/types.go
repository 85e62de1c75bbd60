// Package types contains request and response shapes shared by the service and its HTTP API.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/maap/internal/domain/model"
)

// Batch request validation errors.
var (
	ErrEmptyBatch     = errors.New("batch names no snapshots or employees")
	ErrAmbiguousBatch = errors.New("batch must name snapshots or employees, not both")
	ErrDuplicateBatch = errors.New("batch names a snapshot or employee more than once")
)

// BatchRequest is the body of POST /batches. Exactly one of SnapshotIDs or
// Employees must be set.
type BatchRequest struct {
	// RequestID makes async submissions idempotent.
	RequestID   string                      `json:"request_id,omitempty"`
	Async       bool                        `json:"async,omitempty"`
	SnapshotIDs []int64                     `json:"snapshot_ids,omitempty"`
	Employees   *model.EmployeeBatchRequest `json:"employees,omitempty"`
}

// Validate checks the request names exactly one kind of work, each item once.
func (r BatchRequest) Validate() error {
	hasEmployees := r.Employees != nil && len(r.Employees.Employees) > 0
	switch {
	case hasEmployees && len(r.SnapshotIDs) > 0:
		return ErrAmbiguousBatch
	case !hasEmployees && len(r.SnapshotIDs) == 0:
		return ErrEmptyBatch
	}

	seen := make(map[int64]bool)
	check := func(kind string, id int64) error {
		if seen[id] {
			return fmt.Errorf("%w: %s %d", ErrDuplicateBatch, kind, id)
		}
		seen[id] = true
		return nil
	}
	for _, id := range r.SnapshotIDs {
		if err := check("snapshot", id); err != nil {
			return err
		}
	}
	if hasEmployees {
		for _, e := range r.Employees.Employees {
			if err := check("employee", e.EmployeeID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Job turns the request into a queued job.
func (r BatchRequest) Job(id string, at time.Time) model.BatchJob {
	job := model.BatchJob{
		ID:          id,
		RequestID:   r.RequestID,
		SubmittedAt: at,
	}
	if r.Employees != nil && len(r.Employees.Employees) > 0 {
		emp := *r.Employees
		emp.Employees = append([]model.EmployeeChange(nil), r.Employees.Employees...)
		job.Employees = &emp
	} else {
		job.SnapshotIDs = append([]int64(nil), r.SnapshotIDs...)
	}
	return job
}

// SnapshotList is the response of GET /snapshots.
type SnapshotList struct {
	Snapshots []model.Snapshot `json:"snapshots"`
	Count     int              `json:"count"`
}

// BatchAccepted is the response to an async batch submission.
type BatchAccepted struct {
	Job       model.JobRecord `json:"job"`
	Duplicate bool            `json:"duplicate"`
}

package model

import (
	"encoding/json"
	"time"
)

// EmployeeChange is the per-employee part of an employee batch request.
type EmployeeChange struct {
	EmployeeID int64           `json:"employee_id"`
	FormParams json.RawMessage `json:"form_params,omitempty"`
}

// EmployeeBatchRequest asks for one snapshot per employee followed by finalization.
type EmployeeBatchRequest struct {
	CreatedByID   int64            `json:"created_by_id"`
	ChangeType    string           `json:"change_type"`
	Reason        string           `json:"reason"`
	EffectiveDate time.Time        `json:"effective_date,omitempty"`
	Employees     []EmployeeChange `json:"employees"`
}

// BatchJob is a queued bulk finalization request.
// Exactly one of SnapshotIDs or Employees is set.
type BatchJob struct {
	ID          string                `json:"id"`
	RequestID   string                `json:"request_id,omitempty"`
	SnapshotIDs []int64               `json:"snapshot_ids,omitempty"`
	Employees   *EmployeeBatchRequest `json:"employees,omitempty"`
	SubmittedAt time.Time             `json:"submitted_at"`
}

// JobStatus is the lifecycle state of an async batch job.
type JobStatus string

// Job states.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// BatchResult is the outcome of finalizing one snapshot in a batch.
type BatchResult struct {
	Index            int        `json:"index"`
	SnapshotID       int64      `json:"snapshot_id,omitempty"`
	EmployeeID       int64      `json:"employee_id"`
	Success          bool       `json:"success"`
	AlreadyProcessed bool       `json:"already_processed,omitempty"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	Message          string     `json:"message,omitempty"`
	Attempts         int        `json:"attempts"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// Report aggregates a batch run. Results are in input order.
type Report struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Results          []BatchResult `json:"results"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	AlreadyProcessed int           `json:"already_processed"`
}

// Tally recomputes the summary counters from Results.
func (r *Report) Tally() {
	r.Succeeded, r.Failed, r.AlreadyProcessed = 0, 0, 0
	for _, res := range r.Results {
		switch {
		case !res.Success:
			r.Failed++
		case res.AlreadyProcessed:
			r.AlreadyProcessed++
			r.Succeeded++
		default:
			r.Succeeded++
		}
	}
}

// JobRecord is the tracked state of an async batch job.
type JobRecord struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"request_id,omitempty"`
	Status      JobStatus  `json:"status"`
	Size        int        `json:"size"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Report      *Report    `json:"report,omitempty"`
	ArchiveKey  string     `json:"archive_key,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Size returns how many employees the job covers.
func (j BatchJob) Size() int {
	if j.Employees != nil {
		return len(j.Employees.Employees)
	}
	return len(j.SnapshotIDs)
}

// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Employee is the subject of snapshots. Read-only to the snapshot engine.
type Employee struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	OrganizationID int64  `json:"organization_id"`
}

// EmploymentTenure is an employee's period of employment with an organization.
type EmploymentTenure struct {
	ID             int64      `json:"id"`
	EmployeeID     int64      `json:"employee_id"`
	OrganizationID int64      `json:"organization_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// ActiveAt reports whether the tenure covers t.
func (t EmploymentTenure) ActiveAt(at time.Time) bool {
	return activeAt(t.StartedAt, t.EndedAt, at)
}

// Assignment is a role or responsibility an employee can hold.
type Assignment struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Title          string `json:"title"`
}

// DisplayLabel returns the assignment title.
func (a Assignment) DisplayLabel() string { return strings.TrimSpace(a.Title) }

// AssignmentTenure records an employee holding an assignment over time.
type AssignmentTenure struct {
	ID                          int64      `json:"id"`
	EmployeeID                  int64      `json:"employee_id"`
	AssignmentID                int64      `json:"assignment_id"`
	AnticipatedEnergyPercentage int        `json:"anticipated_energy_percentage"`
	OfficialRating              Rating     `json:"official_rating"`
	StartedAt                   time.Time  `json:"started_at"`
	EndedAt                     *time.Time `json:"ended_at,omitempty"`
}

// ActiveAt reports whether the tenure covers t.
func (t AssignmentTenure) ActiveAt(at time.Time) bool {
	return activeAt(t.StartedAt, t.EndedAt, at)
}

// CheckIn is the review record for one employee and assignment within a cycle.
type CheckIn struct {
	ID                         int64      `json:"id"`
	EmployeeID                 int64      `json:"employee_id"`
	AssignmentID               int64      `json:"assignment_id"`
	CheckInStartedOn           time.Time  `json:"check_in_started_on"`
	EmployeeRating             Rating     `json:"employee_rating"`
	ManagerRating              Rating     `json:"manager_rating"`
	OfficialRating             Rating     `json:"official_rating"`
	SharedNotes                string     `json:"shared_notes"`
	EmployeeCompletedAt        *time.Time `json:"employee_completed_at,omitempty"`
	ManagerCompletedAt         *time.Time `json:"manager_completed_at,omitempty"`
	OfficialCheckInCompletedAt *time.Time `json:"official_check_in_completed_at,omitempty"`
	FinalizedByID              int64      `json:"finalized_by_id,omitempty"`
}

// Open reports whether the official check-in has not been completed yet.
func (c CheckIn) Open() bool { return c.OfficialCheckInCompletedAt == nil }

// Clone returns a copy that shares no pointers with c.
func (c CheckIn) Clone() CheckIn {
	c.EmployeeCompletedAt = cloneTime(c.EmployeeCompletedAt)
	c.ManagerCompletedAt = cloneTime(c.ManagerCompletedAt)
	c.OfficialCheckInCompletedAt = cloneTime(c.OfficialCheckInCompletedAt)
	return c
}

// Ability is a skill employees attain milestones against.
type Ability struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
}

// DisplayLabel returns the ability name. A blank name means the label is absent.
func (a Ability) DisplayLabel() string { return strings.TrimSpace(a.Name) }

// Milestone is an attained level for an employee against an ability.
type Milestone struct {
	ID            int64     `json:"id"`
	EmployeeID    int64     `json:"employee_id"`
	AbilityID     int64     `json:"ability_id"`
	Level         int       `json:"milestone_level"`
	AttainedAt    time.Time `json:"attained_at"`
	CertifiedByID int64     `json:"certified_by_id,omitempty"`
}

func activeAt(start time.Time, end *time.Time, at time.Time) bool {
	if start.After(at) {
		return false
	}
	return end == nil || end.After(at)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Package finalize applies the accepted changes of a stored snapshot to live records.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/changes"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/label"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

const op = "finalize.Process"

// Finalization outcomes recorded in metrics.
const (
	OutcomeSuccess          = "success"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeFailure          = "failure"
)

// CheckInOutcome describes one check-in written by finalization.
type CheckInOutcome struct {
	AssignmentID    int64        `json:"assignment_id"`
	AssignmentTitle string       `json:"assignment_title"`
	CheckInID       int64        `json:"check_in_id"`
	Created         bool         `json:"created"`
	SharedNotes     string       `json:"shared_notes"`
	OfficialRating  model.Rating `json:"official_rating"`
}

// MilestoneOutcome is a milestone attained since the previous finalization.
type MilestoneOutcome struct {
	AbilityID    int64     `json:"ability_id"`
	AbilityTitle string    `json:"ability_title"`
	Level        int       `json:"milestone_level"`
	AttainedAt   time.Time `json:"attained_at"`
	Created      bool      `json:"created"`
}

// Result is the structured outcome of finalizing one snapshot.
type Result struct {
	SnapshotID       int64              `json:"snapshot_id"`
	EmployeeID       int64              `json:"employee_id"`
	AlreadyProcessed bool               `json:"already_processed"`
	ProcessedAt      *time.Time         `json:"processed_at,omitempty"`
	CheckIns         []CheckInOutcome   `json:"check_ins"`
	Milestones       []MilestoneOutcome `json:"milestones"`
}

// Processor finalizes snapshots one employee at a time.
type Processor struct {
	repo repository.Store
	now  func() time.Time
	log  logger.Logger
}

// New returns a Processor writing through repo.
func New(repo repository.Store, opts ...Option) *Processor {
	p := &Processor{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies the snapshot's merged changes. Every write, including
// processed_at, commits together or not at all. A processed snapshot yields
// a result with AlreadyProcessed set and an already processed error.
func (p *Processor) Process(ctx context.Context, snapshotID int64) (Result, error) {
	start := time.Now()
	res, err := p.process(ctx, snapshotID)
	metrics.RecordFinalizationLatency(float64(time.Since(start).Microseconds()) / 1000.0)

	switch {
	case err == nil:
		metrics.RecordFinalization(OutcomeSuccess)
		metrics.RecordCheckInsFinalized(len(res.CheckIns))
		if p.log != nil {
			p.log.Info(ctx, "snapshot finalized",
				logger.Int64("snapshot_id", snapshotID),
				logger.Int64("employee_id", res.EmployeeID),
				logger.Int("check_ins", len(res.CheckIns)),
				logger.Int("milestones", len(res.Milestones)),
			)
		}
	case res.AlreadyProcessed:
		metrics.RecordFinalization(OutcomeAlreadyProcessed)
		if p.log != nil {
			p.log.Debug(ctx, "snapshot already processed", logger.Int64("snapshot_id", snapshotID))
		}
	default:
		kind := fault.KindOf(err)
		metrics.RecordFinalization(OutcomeFailure)
		metrics.RecordFinalizationError(string(kind))
		if p.log != nil {
			p.log.Warn(ctx, "snapshot finalization failed",
				logger.Int64("snapshot_id", snapshotID),
				logger.String("kind", string(kind)),
				logger.Error(err),
			)
		}
	}
	return res, err
}

func (p *Processor) process(ctx context.Context, snapshotID int64) (Result, error) {
	var snap model.Snapshot
	err := p.repo.View(ctx, func(r repository.Reader) error {
		var err error
		snap, err = r.Snapshot(ctx, snapshotID)
		return err
	})
	if err != nil {
		return Result{SnapshotID: snapshotID}, repository.Classify(op, err)
	}

	res := Result{SnapshotID: snap.ID, EmployeeID: snap.EmployeeID}
	if snap.Processed() {
		res.AlreadyProcessed = true
		res.ProcessedAt = snap.ProcessedAt
		return res, fault.New(op, fault.KindAlreadyProcessed, "snapshot %d processed at %s", snap.ID, snap.ProcessedAt.UTC().Format(time.RFC3339))
	}
	if !snap.ChangeType.Finalizable() {
		return res, fault.New(op, fault.KindValidation, "change type %q cannot be finalized", snap.ChangeType)
	}

	now := p.now()
	var created map[int64]bool
	err = p.repo.RunInTransaction(ctx, func(tx repository.Tx) error {
		res.CheckIns, res.Milestones = nil, nil

		// Claim the snapshot first so a concurrent attempt fails before any write.
		if err := tx.MarkSnapshotProcessed(ctx, snap.ID, now); err != nil {
			return err
		}
		req, err := changes.Merge(ctx, tx, snap.EmployeeID, snap.MaapData, snap.FormParams)
		if err != nil {
			return err
		}
		if res.CheckIns, err = p.applyCheckIns(ctx, tx, snap, req, now); err != nil {
			return err
		}
		if created, err = p.applyMilestones(ctx, tx, snap, req, now); err != nil {
			return err
		}
		res.Milestones, err = p.attainedMilestones(ctx, tx, snap, created)
		return err
	})
	if err != nil {
		res.CheckIns, res.Milestones = nil, nil
		err = repository.Classify(op, err)
		res.AlreadyProcessed = fault.Is(err, fault.KindAlreadyProcessed)
		return res, err
	}

	metrics.RecordMilestonesCreated(len(created))
	res.ProcessedAt = &now
	return res, nil
}

func (p *Processor) applyCheckIns(ctx context.Context, tx repository.Tx, snap model.Snapshot, req changes.ChangeRequest, now time.Time) ([]CheckInOutcome, error) {
	tenures, err := tx.ActiveAssignmentTenures(ctx, snap.EmployeeID, now)
	if err != nil {
		return nil, err
	}
	byAssignment := make(map[int64]model.AssignmentTenure, len(tenures))
	for _, t := range tenures {
		byAssignment[t.AssignmentID] = t
	}

	out := make([]CheckInOutcome, 0, len(req.CheckIns))
	for _, c := range req.CheckIns {
		if c.Current == nil && !c.HasProposal() {
			continue
		}

		ci := model.CheckIn{
			EmployeeID:       snap.EmployeeID,
			AssignmentID:     c.AssignmentID,
			CheckInStartedOn: snap.EffectiveDate,
		}
		if c.Current != nil {
			ci = c.Current.Clone()
		}
		ci.SharedNotes = c.SharedNotes
		ci.OfficialRating = c.OfficialRating
		completed := now
		ci.OfficialCheckInCompletedAt = &completed
		if ci.ManagerCompletedAt == nil {
			managerDone := now
			ci.ManagerCompletedAt = &managerDone
		}
		ci.FinalizedByID = snap.CreatedByID
		if err := tx.SaveCheckIn(ctx, &ci); err != nil {
			return nil, err
		}

		if t, ok := byAssignment[c.AssignmentID]; ok && !ci.OfficialRating.IsZero() && t.OfficialRating != ci.OfficialRating {
			if err := tx.UpdateAssignmentTenureRating(ctx, t.ID, ci.OfficialRating); err != nil {
				return nil, err
			}
		}

		title, err := p.assignmentTitle(ctx, tx, c.AssignmentID)
		if err != nil {
			return nil, err
		}
		out = append(out, CheckInOutcome{
			AssignmentID:    c.AssignmentID,
			AssignmentTitle: title,
			CheckInID:       ci.ID,
			Created:         c.Current == nil,
			SharedNotes:     ci.SharedNotes,
			OfficialRating:  ci.OfficialRating,
		})
	}
	return out, nil
}

func (p *Processor) assignmentTitle(ctx context.Context, tx repository.Tx, id int64) (string, error) {
	a, err := tx.Assignment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fault.Wrap(op, fault.KindAttributeResolution, fmt.Errorf("assignment %d: %w", id, err))
	}
	if err != nil {
		return "", err
	}
	return label.Resolve(op, fmt.Sprintf("assignment %d", id), a)
}

// applyMilestones records proposed levels above the employee's current level
// for each ability and returns the ids of the created milestones.
func (p *Processor) applyMilestones(ctx context.Context, tx repository.Tx, snap model.Snapshot, req changes.ChangeRequest, now time.Time) (map[int64]bool, error) {
	created := make(map[int64]bool)
	if len(req.Milestones) == 0 {
		return created, nil
	}
	existing, err := tx.Milestones(ctx, snap.EmployeeID)
	if err != nil {
		return nil, err
	}
	current := make(map[int64]int, len(existing))
	for _, m := range existing {
		if lvl, ok := current[m.AbilityID]; !ok || m.Level > lvl {
			current[m.AbilityID] = m.Level
		}
	}

	for _, prop := range req.Milestones {
		if lvl, ok := current[prop.AbilityID]; ok && prop.Level <= lvl {
			continue
		}
		if _, err := tx.Ability(ctx, prop.AbilityID); errors.Is(err, repository.ErrNotFound) {
			return nil, fault.New(op, fault.KindValidation, "milestone proposal for unknown ability %d", prop.AbilityID)
		} else if err != nil {
			return nil, err
		}
		m := model.Milestone{
			EmployeeID:    snap.EmployeeID,
			AbilityID:     prop.AbilityID,
			Level:         prop.Level,
			AttainedAt:    now,
			CertifiedByID: snap.CreatedByID,
		}
		if err := tx.CreateMilestone(ctx, &m); err != nil {
			return nil, err
		}
		current[prop.AbilityID] = prop.Level
		created[m.ID] = true
	}
	return created, nil
}

// attainedMilestones lists milestones attained after the employee's previous
// finalization, or all of them for the first one, labeled with the ability
// display label only.
func (p *Processor) attainedMilestones(ctx context.Context, tx repository.Tx, snap model.Snapshot, created map[int64]bool) ([]MilestoneOutcome, error) {
	since, err := tx.LastProcessedAt(ctx, snap.EmployeeID, snap.ID)
	if err != nil {
		return nil, err
	}
	all, err := tx.Milestones(ctx, snap.EmployeeID)
	if err != nil {
		return nil, err
	}

	out := make([]MilestoneOutcome, 0, len(all))
	for _, m := range all {
		if since != nil && !m.AttainedAt.After(*since) {
			continue
		}
		ability, err := tx.Ability(ctx, m.AbilityID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fault.Wrap(op, fault.KindAttributeResolution, fmt.Errorf("ability %d: %w", m.AbilityID, err))
		}
		if err != nil {
			return nil, err
		}
		title, err := label.Resolve(op, fmt.Sprintf("ability %d", m.AbilityID), ability)
		if err != nil {
			return nil, err
		}
		out = append(out, MilestoneOutcome{
			AbilityID:    m.AbilityID,
			AbilityTitle: title,
			Level:        m.Level,
			AttainedAt:   m.AttainedAt,
			Created:      created[m.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AbilityID != out[j].AbilityID {
			return out[i].AbilityID < out[j].AbilityID
		}
		return out[i].Level < out[j].Level
	})
	return out, nil
}

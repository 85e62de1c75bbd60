// Package snapshot persists immutable pairs of derived maap data and submitted form params.
package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/changes"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/maap"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

// CreateRequest describes a snapshot to capture.
type CreateRequest struct {
	EmployeeID    int64           `json:"employee_id"`
	CreatedByID   int64           `json:"created_by_id"`
	ChangeType    string          `json:"change_type"`
	Reason        string          `json:"reason"`
	FormParams    json.RawMessage `json:"form_params,omitempty"`
	EffectiveDate time.Time       `json:"effective_date,omitempty"`
}

// Store creates and reads snapshots. Every value it returns is a private copy.
type Store struct {
	repo    repository.Store
	builder *maap.Builder
	now     func() time.Time
	log     logger.Logger
}

// New returns a Store over repo.
func New(repo repository.Store, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = maap.NewBuilder(maap.WithClock(s.now))
	}
	return s
}

// Create builds maap data for the employee and stores it next to the form
// params as submitted, with processed_at unset.
func (s *Store) Create(ctx context.Context, req CreateRequest) (model.Snapshot, error) {
	const op = "snapshot.Create"

	if req.EmployeeID <= 0 {
		return model.Snapshot{}, fault.New(op, fault.KindValidation, "employee_id must be positive")
	}
	ct, err := model.ParseChangeType(req.ChangeType)
	if err != nil {
		return model.Snapshot{}, fault.Wrap(op, fault.KindValidation, err)
	}
	formParams, err := model.NormalizeFormParams(req.FormParams)
	if err != nil {
		return model.Snapshot{}, fault.Wrap(op, fault.KindValidation, err)
	}

	now := s.now()
	effective := req.EffectiveDate
	if effective.IsZero() {
		effective = now
	}

	snap := model.Snapshot{
		EmployeeID:    req.EmployeeID,
		CreatedByID:   req.CreatedByID,
		ChangeType:    ct,
		Reason:        req.Reason,
		FormParams:    formParams,
		EffectiveDate: effective,
		CreatedAt:     now,
	}
	err = s.repo.RunInTransaction(ctx, func(tx repository.Tx) error {
		data, err := s.builder.Build(ctx, tx, req.EmployeeID, effective)
		if err != nil {
			return err
		}
		snap.MaapData = data
		return tx.InsertSnapshot(ctx, &snap)
	})
	if err != nil {
		return model.Snapshot{}, repository.Classify(op, err)
	}

	metrics.RecordSnapshotCreated(string(ct))
	if s.log != nil {
		s.log.Info(ctx, "snapshot created",
			logger.Int64("snapshot_id", snap.ID),
			logger.Int64("employee_id", snap.EmployeeID),
			logger.String("change_type", string(ct)),
			logger.Int("entries", len(snap.MaapData)),
		)
	}
	return snap.Clone(), nil
}

// MarkProcessed sets processed_at. It fails with an already processed error
// when the snapshot was processed before.
func (s *Store) MarkProcessed(ctx context.Context, id int64) (model.Snapshot, error) {
	const op = "snapshot.MarkProcessed"

	var snap model.Snapshot
	err := s.repo.RunInTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.MarkSnapshotProcessed(ctx, id, s.now()); err != nil {
			return err
		}
		var err error
		snap, err = tx.Snapshot(ctx, id)
		return err
	})
	if err != nil {
		return model.Snapshot{}, repository.Classify(op, err)
	}
	return snap, nil
}

// Get returns the snapshot with id.
func (s *Store) Get(ctx context.Context, id int64) (model.Snapshot, error) {
	var snap model.Snapshot
	err := s.repo.View(ctx, func(r repository.Reader) error {
		var err error
		snap, err = r.Snapshot(ctx, id)
		return err
	})
	if err != nil {
		return model.Snapshot{}, repository.Classify("snapshot.Get", err)
	}
	return snap.Clone(), nil
}

// MaapData returns a copy of the snapshot's derived state.
func (s *Store) MaapData(ctx context.Context, id int64) (model.MaapData, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.MaapData, nil
}

// FormParams returns the submitted form params byte for byte.
func (s *Store) FormParams(ctx context.Context, id int64) (json.RawMessage, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.FormParams, nil
}

// List returns snapshots matching filter ordered by id.
func (s *Store) List(ctx context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error) {
	var list []model.Snapshot
	err := s.repo.View(ctx, func(r repository.Reader) error {
		var err error
		list, err = r.ListSnapshots(ctx, filter)
		return err
	})
	if err != nil {
		return nil, repository.Classify("snapshot.List", err)
	}
	for i := range list {
		list[i] = list[i].Clone()
	}
	return list, nil
}

// Changes merges the snapshot's form params over the current check-ins.
// The result is only a preview and is never stored.
func (s *Store) Changes(ctx context.Context, id int64) (changes.ChangeRequest, error) {
	var req changes.ChangeRequest
	err := s.repo.View(ctx, func(r repository.Reader) error {
		snap, err := r.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		req, err = changes.Merge(ctx, r, snap.EmployeeID, snap.MaapData, snap.FormParams)
		return err
	})
	if err != nil {
		return changes.ChangeRequest{}, repository.Classify("snapshot.Changes", err)
	}
	return req, nil
}

// Package memory provides an in-memory transactional implementation of the entity gateway.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/model"
)

// Driver is the name reported by the memory store.
const Driver = "memory"

type state struct {
	employees   map[int64]model.Employee
	employment  map[int64]model.EmploymentTenure
	assignments map[int64]model.Assignment
	tenures     map[int64]model.AssignmentTenure
	abilities   map[int64]model.Ability
	checkIns    map[int64]model.CheckIn
	milestones  map[int64]model.Milestone
	snapshots   map[int64]model.Snapshot
	seq         map[string]int64
}

func newState() state {
	return state{
		employees:   map[int64]model.Employee{},
		employment:  map[int64]model.EmploymentTenure{},
		assignments: map[int64]model.Assignment{},
		tenures:     map[int64]model.AssignmentTenure{},
		abilities:   map[int64]model.Ability{},
		checkIns:    map[int64]model.CheckIn{},
		milestones:  map[int64]model.Milestone{},
		snapshots:   map[int64]model.Snapshot{},
		seq:         map[string]int64{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.employees {
		out.employees[k] = v
	}
	for k, v := range s.employment {
		v.EndedAt = cloneTime(v.EndedAt)
		out.employment[k] = v
	}
	for k, v := range s.assignments {
		out.assignments[k] = v
	}
	for k, v := range s.tenures {
		v.EndedAt = cloneTime(v.EndedAt)
		out.tenures[k] = v
	}
	for k, v := range s.abilities {
		out.abilities[k] = v
	}
	for k, v := range s.checkIns {
		out.checkIns[k] = v.Clone()
	}
	for k, v := range s.milestones {
		out.milestones[k] = v
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = v.Clone()
	}
	for k, v := range s.seq {
		out.seq[k] = v
	}
	return out
}

// next assigns the next id of table when id is zero and keeps the sequence
// ahead of explicitly chosen ids.
func (s *state) next(table string, id int64) int64 {
	if id == 0 {
		s.seq[table]++
		return s.seq[table]
	}
	if id > s.seq[table] {
		s.seq[table] = id
	}
	return id
}

// Store keeps every record in process memory. Transactions run on a clone of
// the state that replaces it only when the transaction function succeeds.
type Store struct {
	mu    sync.RWMutex
	state state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// Driver implements repository.Store.
func (s *Store) Driver() string { return Driver }

// Close implements repository.Store.
func (s *Store) Close() error { return nil }

// View runs fn while holding the read lock. Returned records are copies.
func (s *Store) View(ctx context.Context, fn func(r repository.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&view{st: &s.state})
}

// RunInTransaction serializes writers and commits by swapping in the cloned state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{view: view{st: &working}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

type view struct {
	st *state
}

func (v *view) Employee(_ context.Context, id int64) (model.Employee, error) {
	e, ok := v.st.employees[id]
	if !ok {
		return model.Employee{}, repository.ErrNotFound
	}
	return e, nil
}

func (v *view) ActiveEmploymentTenure(_ context.Context, employeeID int64, at time.Time) (model.EmploymentTenure, error) {
	var (
		found model.EmploymentTenure
		ok    bool
	)
	for _, t := range v.st.employment {
		if t.EmployeeID != employeeID || !t.ActiveAt(at) {
			continue
		}
		// Latest start wins when tenures overlap.
		if !ok || t.StartedAt.After(found.StartedAt) || (t.StartedAt.Equal(found.StartedAt) && t.ID > found.ID) {
			found, ok = t, true
		}
	}
	if !ok {
		return model.EmploymentTenure{}, repository.ErrNotFound
	}
	found.EndedAt = cloneTime(found.EndedAt)
	return found, nil
}

func (v *view) ActiveAssignmentTenures(_ context.Context, employeeID int64, at time.Time) ([]model.AssignmentTenure, error) {
	out := make([]model.AssignmentTenure, 0)
	for _, t := range v.st.tenures {
		if t.EmployeeID == employeeID && t.ActiveAt(at) {
			t.EndedAt = cloneTime(t.EndedAt)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) Assignment(_ context.Context, id int64) (model.Assignment, error) {
	a, ok := v.st.assignments[id]
	if !ok {
		return model.Assignment{}, repository.ErrNotFound
	}
	return a, nil
}

func (v *view) Ability(_ context.Context, id int64) (model.Ability, error) {
	a, ok := v.st.abilities[id]
	if !ok {
		return model.Ability{}, repository.ErrNotFound
	}
	return a, nil
}

func (v *view) OpenCheckIn(_ context.Context, employeeID, assignmentID int64) (model.CheckIn, error) {
	c, ok := v.openCheckIn(employeeID, assignmentID)
	if !ok {
		return model.CheckIn{}, repository.ErrNotFound
	}
	return c.Clone(), nil
}

func (v *view) openCheckIn(employeeID, assignmentID int64) (model.CheckIn, bool) {
	for _, c := range v.st.checkIns {
		if c.EmployeeID == employeeID && c.AssignmentID == assignmentID && c.Open() {
			return c, true
		}
	}
	return model.CheckIn{}, false
}

func (v *view) Milestones(_ context.Context, employeeID int64) ([]model.Milestone, error) {
	out := make([]model.Milestone, 0)
	for _, m := range v.st.milestones {
		if m.EmployeeID == employeeID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AttainedAt.Equal(out[j].AttainedAt) {
			return out[i].AttainedAt.Before(out[j].AttainedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) Snapshot(_ context.Context, id int64) (model.Snapshot, error) {
	s, ok := v.st.snapshots[id]
	if !ok {
		return model.Snapshot{}, repository.ErrNotFound
	}
	return s.Clone(), nil
}

func (v *view) ListSnapshots(_ context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error) {
	out := make([]model.Snapshot, 0)
	for _, s := range v.st.snapshots {
		if filter.Match(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v *view) LastProcessedAt(_ context.Context, employeeID, exclude int64) (*time.Time, error) {
	var last *time.Time
	for _, s := range v.st.snapshots {
		if s.EmployeeID != employeeID || s.ID == exclude || s.ProcessedAt == nil {
			continue
		}
		if last == nil || s.ProcessedAt.After(*last) {
			last = cloneTime(s.ProcessedAt)
		}
	}
	return last, nil
}

type tx struct {
	view
}

func (t *tx) PutEmployee(_ context.Context, e *model.Employee) error {
	e.ID = t.st.next("employees", e.ID)
	t.st.employees[e.ID] = *e
	return nil
}

func (t *tx) PutEmploymentTenure(_ context.Context, et *model.EmploymentTenure) error {
	et.ID = t.st.next("employment_tenures", et.ID)
	v := *et
	v.EndedAt = cloneTime(v.EndedAt)
	t.st.employment[et.ID] = v
	return nil
}

func (t *tx) PutAssignment(_ context.Context, a *model.Assignment) error {
	a.ID = t.st.next("assignments", a.ID)
	t.st.assignments[a.ID] = *a
	return nil
}

func (t *tx) PutAssignmentTenure(_ context.Context, at *model.AssignmentTenure) error {
	at.ID = t.st.next("assignment_tenures", at.ID)
	v := *at
	v.EndedAt = cloneTime(v.EndedAt)
	t.st.tenures[at.ID] = v
	return nil
}

func (t *tx) PutAbility(_ context.Context, a *model.Ability) error {
	a.ID = t.st.next("abilities", a.ID)
	t.st.abilities[a.ID] = *a
	return nil
}

func (t *tx) SaveCheckIn(_ context.Context, c *model.CheckIn) error {
	if c.Open() {
		if existing, ok := t.openCheckIn(c.EmployeeID, c.AssignmentID); ok && existing.ID != c.ID {
			return repository.ErrDuplicateOpen
		}
	}
	if c.ID != 0 {
		if _, ok := t.st.checkIns[c.ID]; !ok {
			return repository.ErrNotFound
		}
	}
	c.ID = t.st.next("check_ins", c.ID)
	t.st.checkIns[c.ID] = c.Clone()
	return nil
}

func (t *tx) UpdateAssignmentTenureRating(_ context.Context, tenureID int64, rating model.Rating) error {
	at, ok := t.st.tenures[tenureID]
	if !ok {
		return repository.ErrNotFound
	}
	at.OfficialRating = rating
	t.st.tenures[tenureID] = at
	return nil
}

func (t *tx) CreateMilestone(_ context.Context, m *model.Milestone) error {
	m.ID = t.st.next("milestones", m.ID)
	t.st.milestones[m.ID] = *m
	return nil
}

func (t *tx) InsertSnapshot(_ context.Context, s *model.Snapshot) error {
	s.ID = t.st.next("snapshots", s.ID)
	t.st.snapshots[s.ID] = s.Clone()
	return nil
}

func (t *tx) MarkSnapshotProcessed(_ context.Context, id int64, at time.Time) error {
	s, ok := t.st.snapshots[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.ProcessedAt != nil {
		return repository.ErrAlreadyProcessed
	}
	s.ProcessedAt = &at
	t.st.snapshots[id] = s
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

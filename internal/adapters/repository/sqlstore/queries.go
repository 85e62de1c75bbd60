package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/model"
)

// timeLayout is fixed width so stored values sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type conn struct {
	q queryer
	d dialect
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// notFound maps sql.ErrNoRows to repository.ErrNotFound and wraps everything else.
func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return fmt.Errorf("sqlstore: %s: %w", what, err)
}

const employmentColumns = `id, employee_id, organization_id, started_at, ended_at`

func scanEmployment(row scanner) (model.EmploymentTenure, error) {
	var (
		t       model.EmploymentTenure
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&t.ID, &t.EmployeeID, &t.OrganizationID, &started, &ended); err != nil {
		return t, err
	}
	var err error
	if t.StartedAt, err = parseTime(started); err != nil {
		return t, err
	}
	t.EndedAt, err = parseTimePtr(ended)
	return t, err
}

const tenureColumns = `id, employee_id, assignment_id, anticipated_energy_percentage, official_rating, started_at, ended_at`

func scanTenure(row scanner) (model.AssignmentTenure, error) {
	var (
		t       model.AssignmentTenure
		rating  string
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&t.ID, &t.EmployeeID, &t.AssignmentID, &t.AnticipatedEnergyPercentage, &rating, &started, &ended); err != nil {
		return t, err
	}
	// Unknown ratings are kept as stored so the builder can reject them.
	t.OfficialRating = model.Rating(rating)
	var err error
	if t.StartedAt, err = parseTime(started); err != nil {
		return t, err
	}
	t.EndedAt, err = parseTimePtr(ended)
	return t, err
}

const checkInColumns = `id, employee_id, assignment_id, check_in_started_on, employee_rating, manager_rating,
	official_rating, shared_notes, employee_completed_at, manager_completed_at,
	official_check_in_completed_at, finalized_by_id`

func scanCheckIn(row scanner) (model.CheckIn, error) {
	var (
		c                                             model.CheckIn
		started                                       string
		employeeRating, managerRating, officialRating string
		employeeDone, managerDone, officialDone       sql.NullString
	)
	if err := row.Scan(&c.ID, &c.EmployeeID, &c.AssignmentID, &started, &employeeRating, &managerRating,
		&officialRating, &c.SharedNotes, &employeeDone, &managerDone, &officialDone, &c.FinalizedByID); err != nil {
		return c, err
	}
	c.EmployeeRating = model.Rating(employeeRating)
	c.ManagerRating = model.Rating(managerRating)
	c.OfficialRating = model.Rating(officialRating)

	var err error
	if c.CheckInStartedOn, err = parseTime(started); err != nil {
		return c, err
	}
	if c.EmployeeCompletedAt, err = parseTimePtr(employeeDone); err != nil {
		return c, err
	}
	if c.ManagerCompletedAt, err = parseTimePtr(managerDone); err != nil {
		return c, err
	}
	c.OfficialCheckInCompletedAt, err = parseTimePtr(officialDone)
	return c, err
}

const snapshotColumns = `id, employee_id, created_by_id, change_type, reason, maap_data, form_params,
	effective_date, created_at, processed_at`

func scanSnapshot(row scanner) (model.Snapshot, error) {
	var (
		s                    model.Snapshot
		changeType           string
		maapData, formParams string
		effective, created   string
		processed            sql.NullString
	)
	if err := row.Scan(&s.ID, &s.EmployeeID, &s.CreatedByID, &changeType, &s.Reason, &maapData, &formParams,
		&effective, &created, &processed); err != nil {
		return s, err
	}
	s.ChangeType = model.ChangeType(changeType)
	if err := json.Unmarshal([]byte(maapData), &s.MaapData); err != nil {
		return s, fmt.Errorf("sqlstore: decode maap_data of snapshot %d: %w", s.ID, err)
	}
	s.FormParams = []byte(formParams)

	var err error
	if s.EffectiveDate, err = parseTime(effective); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return s, err
	}
	s.ProcessedAt, err = parseTimePtr(processed)
	return s, err
}

func (c *conn) Employee(ctx context.Context, id int64) (model.Employee, error) {
	var e model.Employee
	err := c.queryRow(ctx, `SELECT id, name, organization_id FROM employees WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &e.OrganizationID)
	if err != nil {
		return model.Employee{}, notFound("employee", err)
	}
	return e, nil
}

func (c *conn) ActiveEmploymentTenure(ctx context.Context, employeeID int64, at time.Time) (model.EmploymentTenure, error) {
	ts := formatTime(at)
	row := c.queryRow(ctx, `SELECT `+employmentColumns+` FROM employment_tenures
		WHERE employee_id = ? AND started_at <= ? AND (ended_at IS NULL OR ended_at > ?)
		ORDER BY started_at DESC, id DESC LIMIT 1`, employeeID, ts, ts)
	t, err := scanEmployment(row)
	if err != nil {
		return model.EmploymentTenure{}, notFound("employment tenure", err)
	}
	return t, nil
}

func (c *conn) ActiveAssignmentTenures(ctx context.Context, employeeID int64, at time.Time) ([]model.AssignmentTenure, error) {
	ts := formatTime(at)
	rows, err := c.query(ctx, `SELECT `+tenureColumns+` FROM assignment_tenures
		WHERE employee_id = ? AND started_at <= ? AND (ended_at IS NULL OR ended_at > ?)
		ORDER BY id`, employeeID, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: assignment tenures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.AssignmentTenure, 0)
	for rows.Next() {
		t, err := scanTenure(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan assignment tenure: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c *conn) Assignment(ctx context.Context, id int64) (model.Assignment, error) {
	var a model.Assignment
	err := c.queryRow(ctx, `SELECT id, organization_id, title FROM assignments WHERE id = ?`, id).
		Scan(&a.ID, &a.OrganizationID, &a.Title)
	if err != nil {
		return model.Assignment{}, notFound("assignment", err)
	}
	return a, nil
}

func (c *conn) Ability(ctx context.Context, id int64) (model.Ability, error) {
	var a model.Ability
	err := c.queryRow(ctx, `SELECT id, organization_id, name FROM abilities WHERE id = ?`, id).
		Scan(&a.ID, &a.OrganizationID, &a.Name)
	if err != nil {
		return model.Ability{}, notFound("ability", err)
	}
	return a, nil
}

func (c *conn) OpenCheckIn(ctx context.Context, employeeID, assignmentID int64) (model.CheckIn, error) {
	row := c.queryRow(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE employee_id = ? AND assignment_id = ? AND official_check_in_completed_at IS NULL
		ORDER BY id LIMIT 1`, employeeID, assignmentID)
	ci, err := scanCheckIn(row)
	if err != nil {
		return model.CheckIn{}, notFound("open check-in", err)
	}
	return ci, nil
}

func (c *conn) Milestones(ctx context.Context, employeeID int64) ([]model.Milestone, error) {
	rows, err := c.query(ctx, `SELECT id, employee_id, ability_id, level, attained_at, certified_by_id
		FROM milestones WHERE employee_id = ? ORDER BY attained_at, id`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: milestones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Milestone, 0)
	for rows.Next() {
		var (
			m        model.Milestone
			attained string
		)
		if err := rows.Scan(&m.ID, &m.EmployeeID, &m.AbilityID, &m.Level, &attained, &m.CertifiedByID); err != nil {
			return nil, fmt.Errorf("sqlstore: scan milestone: %w", err)
		}
		if m.AttainedAt, err = parseTime(attained); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *conn) Snapshot(ctx context.Context, id int64) (model.Snapshot, error) {
	s, err := scanSnapshot(c.queryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
	if err != nil {
		return model.Snapshot{}, notFound("snapshot", err)
	}
	return s, nil
}

func (c *conn) ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != 0 {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Processed != nil {
		if *filter.Processed {
			where = append(where, "processed_at IS NOT NULL")
		} else {
			where = append(where, "processed_at IS NULL")
		}
	}

	q := `SELECT ` + snapshotColumns + ` FROM snapshots`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Snapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *conn) LastProcessedAt(ctx context.Context, employeeID, exclude int64) (*time.Time, error) {
	var last sql.NullString
	err := c.queryRow(ctx, `SELECT MAX(processed_at) FROM snapshots
		WHERE employee_id = ? AND id <> ? AND processed_at IS NOT NULL`, employeeID, exclude).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: last processed: %w", err)
	}
	return parseTimePtr(last)
}

type tx struct {
	conn
}

// insert runs an INSERT ... RETURNING id when *id is zero and an upsert on id otherwise.
func (t *tx) insert(ctx context.Context, table string, id *int64, cols []string, args []any) error {
	if *id == 0 {
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
			table, strings.Join(cols, ", "), placeholders(len(cols)))
		if err := t.queryRow(ctx, q, args...).Scan(id); err != nil {
			return fmt.Errorf("sqlstore: insert %s: %w", table, err)
		}
		return nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = excluded." + col
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, %s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		table, strings.Join(cols, ", "), placeholders(len(cols)+1), strings.Join(sets, ", "))
	if _, err := t.exec(ctx, q, append([]any{*id}, args...)...); err != nil {
		return fmt.Errorf("sqlstore: upsert %s: %w", table, err)
	}
	if t.d.numbered {
		// Keep the serial sequence ahead of explicitly chosen ids.
		seq := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT MAX(id) FROM %s))`, table, table)
		if _, err := t.exec(ctx, seq); err != nil {
			return fmt.Errorf("sqlstore: advance %s sequence: %w", table, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (t *tx) PutEmployee(ctx context.Context, e *model.Employee) error {
	return t.insert(ctx, "employees", &e.ID,
		[]string{"name", "organization_id"},
		[]any{e.Name, e.OrganizationID})
}

func (t *tx) PutEmploymentTenure(ctx context.Context, et *model.EmploymentTenure) error {
	return t.insert(ctx, "employment_tenures", &et.ID,
		[]string{"employee_id", "organization_id", "started_at", "ended_at"},
		[]any{et.EmployeeID, et.OrganizationID, formatTime(et.StartedAt), formatTimePtr(et.EndedAt)})
}

func (t *tx) PutAssignment(ctx context.Context, a *model.Assignment) error {
	return t.insert(ctx, "assignments", &a.ID,
		[]string{"organization_id", "title"},
		[]any{a.OrganizationID, a.Title})
}

func (t *tx) PutAssignmentTenure(ctx context.Context, at *model.AssignmentTenure) error {
	return t.insert(ctx, "assignment_tenures", &at.ID,
		[]string{"employee_id", "assignment_id", "anticipated_energy_percentage", "official_rating", "started_at", "ended_at"},
		[]any{at.EmployeeID, at.AssignmentID, at.AnticipatedEnergyPercentage, string(at.OfficialRating),
			formatTime(at.StartedAt), formatTimePtr(at.EndedAt)})
}

func (t *tx) PutAbility(ctx context.Context, a *model.Ability) error {
	return t.insert(ctx, "abilities", &a.ID,
		[]string{"organization_id", "name"},
		[]any{a.OrganizationID, a.Name})
}

func (t *tx) SaveCheckIn(ctx context.Context, c *model.CheckIn) error {
	if c.Open() {
		existing, err := t.OpenCheckIn(ctx, c.EmployeeID, c.AssignmentID)
		switch {
		case err == nil && existing.ID != c.ID:
			return repository.ErrDuplicateOpen
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}
	}

	cols := []string{
		"employee_id", "assignment_id", "check_in_started_on", "employee_rating", "manager_rating",
		"official_rating", "shared_notes", "employee_completed_at", "manager_completed_at",
		"official_check_in_completed_at", "finalized_by_id",
	}
	args := []any{
		c.EmployeeID, c.AssignmentID, formatTime(c.CheckInStartedOn), string(c.EmployeeRating), string(c.ManagerRating),
		string(c.OfficialRating), c.SharedNotes, formatTimePtr(c.EmployeeCompletedAt), formatTimePtr(c.ManagerCompletedAt),
		formatTimePtr(c.OfficialCheckInCompletedAt), c.FinalizedByID,
	}
	if c.ID == 0 {
		return t.insert(ctx, "check_ins", &c.ID, cols, args)
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	res, err := t.exec(ctx, `UPDATE check_ins SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, c.ID)...)
	if err != nil {
		return fmt.Errorf("sqlstore: update check-in: %w", err)
	}
	return requireRow(res)
}

func (t *tx) UpdateAssignmentTenureRating(ctx context.Context, tenureID int64, rating model.Rating) error {
	res, err := t.exec(ctx, `UPDATE assignment_tenures SET official_rating = ? WHERE id = ?`, string(rating), tenureID)
	if err != nil {
		return fmt.Errorf("sqlstore: update tenure rating: %w", err)
	}
	return requireRow(res)
}

func (t *tx) CreateMilestone(ctx context.Context, m *model.Milestone) error {
	return t.insert(ctx, "milestones", &m.ID,
		[]string{"employee_id", "ability_id", "level", "attained_at", "certified_by_id"},
		[]any{m.EmployeeID, m.AbilityID, m.Level, formatTime(m.AttainedAt), m.CertifiedByID})
}

func (t *tx) InsertSnapshot(ctx context.Context, s *model.Snapshot) error {
	data, err := s.MaapData.Canonical()
	if err != nil {
		return fmt.Errorf("sqlstore: encode maap_data: %w", err)
	}
	return t.insert(ctx, "snapshots", &s.ID,
		[]string{"employee_id", "created_by_id", "change_type", "reason", "maap_data", "form_params", "effective_date", "created_at", "processed_at"},
		[]any{s.EmployeeID, s.CreatedByID, string(s.ChangeType), s.Reason, string(data), string(s.FormParams),
			formatTime(s.EffectiveDate), formatTime(s.CreatedAt), formatTimePtr(s.ProcessedAt)})
}

func (t *tx) MarkSnapshotProcessed(ctx context.Context, id int64, at time.Time) error {
	res, err := t.exec(ctx, `UPDATE snapshots SET processed_at = ? WHERE id = ? AND processed_at IS NULL`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("sqlstore: mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: mark processed: %w", err)
	}
	if n == 1 {
		return nil
	}

	var one int
	if err := t.queryRow(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, id).Scan(&one); err != nil {
		return notFound("snapshot", err)
	}
	return repository.ErrAlreadyProcessed
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

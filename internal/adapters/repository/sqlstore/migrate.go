package sqlstore

import (
	"context"
	"fmt"
)

type migration struct {
	version    int
	statements []string
}

// Timestamps are stored as fixed-width UTC text so both dialects compare them
// lexically. JSON columns are TEXT so form params keep their exact bytes.
var migrations = []migration{ //nolint:gochecknoglobals // ordered schema history
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS employees (
				id {{identity}},
				name TEXT NOT NULL,
				organization_id BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS employment_tenures (
				id {{identity}},
				employee_id BIGINT NOT NULL,
				organization_id BIGINT NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				ended_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS assignments (
				id {{identity}},
				organization_id BIGINT NOT NULL DEFAULT 0,
				title TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS assignment_tenures (
				id {{identity}},
				employee_id BIGINT NOT NULL,
				assignment_id BIGINT NOT NULL,
				anticipated_energy_percentage INTEGER NOT NULL DEFAULT 0,
				official_rating TEXT NOT NULL DEFAULT '',
				started_at TEXT NOT NULL,
				ended_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS abilities (
				id {{identity}},
				organization_id BIGINT NOT NULL DEFAULT 0,
				name TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS check_ins (
				id {{identity}},
				employee_id BIGINT NOT NULL,
				assignment_id BIGINT NOT NULL,
				check_in_started_on TEXT NOT NULL,
				employee_rating TEXT NOT NULL DEFAULT '',
				manager_rating TEXT NOT NULL DEFAULT '',
				official_rating TEXT NOT NULL DEFAULT '',
				shared_notes TEXT NOT NULL DEFAULT '',
				employee_completed_at TEXT,
				manager_completed_at TEXT,
				official_check_in_completed_at TEXT,
				finalized_by_id BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS milestones (
				id {{identity}},
				employee_id BIGINT NOT NULL,
				ability_id BIGINT NOT NULL,
				level INTEGER NOT NULL,
				attained_at TEXT NOT NULL,
				certified_by_id BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS snapshots (
				id {{identity}},
				employee_id BIGINT NOT NULL,
				created_by_id BIGINT NOT NULL DEFAULT 0,
				change_type TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				maap_data TEXT NOT NULL,
				form_params TEXT NOT NULL,
				effective_date TEXT NOT NULL,
				created_at TEXT NOT NULL,
				processed_at TEXT
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_employment_tenures_employee ON employment_tenures (employee_id)`,
			`CREATE INDEX IF NOT EXISTS idx_assignment_tenures_employee ON assignment_tenures (employee_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_check_ins_open_pair ON check_ins (employee_id, assignment_id)
				WHERE official_check_in_completed_at IS NULL`,
			`CREATE INDEX IF NOT EXISTS idx_milestones_employee ON milestones (employee_id)`,
			`CREATE INDEX IF NOT EXISTS idx_snapshots_employee ON snapshots (employee_id)`,
		},
	},
}

// Migrate applies every pending migration, each in its own transaction, and
// records applied versions in schema_migrations. It returns how many
// migrations it applied.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return 0, fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Version returns the highest applied migration version, or 0 when the
// database has never been migrated.
func (s *Store) Version(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'schema_migrations'`
	if s.dialect.name == DriverSQLite {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("migrate: find schema_migrations: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}
	return v, nil
}

func (s *Store) apply(ctx context.Context, m migration) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin v%d: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range m.statements {
		if _, err = tx.ExecContext(ctx, s.dialect.ddl(stmt)); err != nil {
			return fmt.Errorf("migrate: v%d: %w", m.version, err)
		}
	}
	if _, err = tx.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), m.version); err != nil {
		return fmt.Errorf("migrate: record v%d: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit v%d: %w", m.version, err)
	}
	return nil
}

// SchemaVersion returns the latest migration version known to this build.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

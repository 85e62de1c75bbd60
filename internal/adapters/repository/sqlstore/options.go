package sqlstore

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database, in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(s *Store) {
		if ms > 0 {
			s.busyTimeoutMs = ms
		}
	}
}

// WithAutoMigrate controls whether Open applies pending migrations.
func WithAutoMigrate(enabled bool) Option {
	return func(s *Store) {
		s.autoMigrate = enabled
	}
}

package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/adapters/repository/repotest"
	"github.com/okian/maap/internal/adapters/repository/sqlstore"
	"github.com/okian/maap/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func openTemp(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "maap.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	repotest.Run(t, func() repository.Store { return openTemp(t) })
}

func TestSQLiteInMemory(t *testing.T) {
	repotest.Run(t, func() repository.Store {
		s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return s
	})
}

func TestMigrate(t *testing.T) {
	Convey("Given a freshly opened database", t, func() {
		s := openTemp(t)
		defer func() { _ = s.Close() }()
		ctx := context.Background()

		Convey("When migrating again", func() {
			applied, err := s.Migrate(ctx)

			Convey("Then it is a no-op at the latest version", func() {
				So(err, ShouldBeNil)
				So(applied, ShouldEqual, 0)
				v, err := s.Version(ctx)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, sqlstore.SchemaVersion())

				var n int
				So(s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n), ShouldBeNil)
				So(n, ShouldEqual, sqlstore.SchemaVersion())
			})
		})

		Convey("Then the driver is reported", func() {
			So(s.Driver(), ShouldEqual, sqlstore.DriverSQLite)
		})
	})

	Convey("Given a database opened without migrating", t, func() {
		ctx := context.Background()
		s, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "maap.db"), sqlstore.WithAutoMigrate(false))
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		v, err := s.Version(ctx)
		So(err, ShouldBeNil)
		So(v, ShouldEqual, 0)

		Convey("When migrating twice", func() {
			first, err := s.Migrate(ctx)
			So(err, ShouldBeNil)
			second, err := s.Migrate(ctx)
			So(err, ShouldBeNil)

			Convey("Then only the first run applies migrations", func() {
				So(first, ShouldEqual, sqlstore.SchemaVersion())
				So(second, ShouldEqual, 0)
				v, err := s.Version(ctx)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, sqlstore.SchemaVersion())
			})
		})
	})

	Convey("Given an unsupported driver", t, func() {
		_, err := sqlstore.Open(context.Background(), "oracle", "x")
		So(errors.Is(err, repository.ErrUnsupportedDriver), ShouldBeTrue)
	})
}

func TestConcurrentMarkProcessed(t *testing.T) {
	Convey("Given one unprocessed snapshot", t, func() {
		s := openTemp(t)
		defer func() { _ = s.Close() }()
		ctx := context.Background()

		snap := model.Snapshot{
			EmployeeID:    1,
			ChangeType:    model.ChangeCheckInFinalization,
			MaapData:      model.MaapData{},
			FormParams:    []byte(`{}`),
			EffectiveDate: time.Now(),
			CreatedAt:     time.Now(),
		}
		So(s.RunInTransaction(ctx, func(tx repository.Tx) error { return tx.InsertSnapshot(ctx, &snap) }), ShouldBeNil)

		Convey("When many transactions race to mark it", func() {
			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
				already   atomic.Int32
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.RunInTransaction(ctx, func(tx repository.Tx) error {
						return tx.MarkSnapshotProcessed(ctx, snap.ID, time.Now())
					})
					switch {
					case err == nil:
						succeeded.Add(1)
					case errors.Is(err, repository.ErrAlreadyProcessed):
						already.Add(1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one succeeds", func() {
				So(succeeded.Load(), ShouldEqual, 1)
				So(already.Load(), ShouldEqual, 7)
			})
		})
	})
}

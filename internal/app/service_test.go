package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/maap/internal/app"
	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/adapters/repository/memory"
	"github.com/okian/maap/internal/config"
	"github.com/okian/maap/internal/domain/types"
	"github.com/okian/maap/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_Start(t *testing.T) {
	Convey("Given a new service without a store", t, func() {
		svc := service.New()

		Convey("When starting the service", func() {
			err := svc.Start(context.Background())

			Convey("Then it should refuse to start", func() {
				So(errors.Is(err, service.ErrNoStore), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When calling an operation", func() {
			_, err := svc.GetSnapshot(context.Background(), 1)

			Convey("Then it reports the service is not started", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service over a memory store", t, func() {
		svc := service.New(
			service.WithStore(memory.New()),
			service.WithWorkerCount(1),
			service.WithQueueSize(8),
			service.WithBatchConcurrency(2),
			service.WithRetry(2, time.Millisecond),
		)
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When starting the service twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it should report its configuration", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["store"], ShouldEqual, memory.Driver)
				So(stats["archive"], ShouldEqual, "none")
				So(stats["workerCount"], ShouldEqual, 1)
				So(stats["queueCapacity"], ShouldEqual, 8)
				So(stats["queueLength"], ShouldEqual, 0)
			})
		})

		Convey("When the service is stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				_, _, err := svc.SubmitBatch(ctx, types.BatchRequest{SnapshotIDs: []int64{1}})
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

// closeCountingStore counts Close calls on an otherwise ordinary store.
type closeCountingStore struct {
	repository.Store
	closes int
}

func (s *closeCountingStore) Close() error {
	s.closes++
	return s.Store.Close()
}

func TestService_Stop(t *testing.T) {
	Convey("Given a service over a store", t, func() {
		store := &closeCountingStore{Store: memory.New()}
		svc := service.New(service.WithStore(store), service.WithWorkerCount(1))
		ctx := context.Background()

		Convey("When it is stopped without being started", func() {
			svc.Stop()
			svc.Stop()

			Convey("Then the store is closed exactly once", func() {
				So(store.closes, ShouldEqual, 1)
			})

			Convey("Then it cannot be started afterwards", func() {
				So(errors.Is(svc.Start(ctx), service.ErrStopped), ShouldBeTrue)
			})
		})

		Convey("When it is started and stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()
			svc.Stop()

			Convey("Then the store is closed exactly once", func() {
				So(store.closes, ShouldEqual, 1)
			})
		})
	})
}

func TestService_Open(t *testing.T) {
	Convey("Given a config", t, func() {
		ctx := context.Background()
		cfg := config.New()

		Convey("When the memory store and memory archive are selected", func() {
			cfg.StoreDriver = config.StoreMemory
			cfg.ArchiveDriver = "memory"
			cfg.JobWorkerCount = 3

			svc, err := service.Open(ctx, cfg)
			So(err, ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("Then the service runs with them", func() {
				stats := svc.GetStats()
				So(stats["store"], ShouldEqual, memory.Driver)
				So(stats["archive"], ShouldEqual, "memory")
				So(stats["workerCount"], ShouldEqual, 3)
			})
		})

		Convey("When a sqlite file is selected", func() {
			cfg.SQLitePath = t.TempDir() + "/maap.db"

			svc, err := service.Open(ctx, cfg)
			So(err, ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			So(svc.GetStats()["store"], ShouldEqual, "sqlite")
		})

		Convey("When the store driver is unknown", func() {
			cfg.StoreDriver = "oracle"

			_, err := service.Open(ctx, cfg)
			So(err, ShouldNotBeNil)
		})

		Convey("When the archive driver is unknown", func() {
			cfg.StoreDriver = config.StoreMemory
			cfg.ArchiveDriver = "tape"

			_, err := service.Open(ctx, cfg)
			So(err, ShouldNotBeNil)
		})
	})
}

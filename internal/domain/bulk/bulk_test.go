package bulk_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/adapters/repository/memory"
	"github.com/okian/maap/internal/domain/bulk"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/finalize"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/internal/fixtures"
	"github.com/okian/maap/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Components name their loggers from the global one.
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var clock = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

// finalizerMock answers Process with a scripted function per call.
type finalizerMock struct {
	mu    sync.Mutex
	calls map[int64]int
	fn    func(id int64, call int) (finalize.Result, error)
}

func (m *finalizerMock) Process(_ context.Context, id int64) (finalize.Result, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = map[int64]int{}
	}
	m.calls[id]++
	call := m.calls[id]
	m.mu.Unlock()
	return m.fn(id, call)
}

func (m *finalizerMock) count(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

func seeded() (*memory.Store, *snapshot.Store, *finalize.Processor) {
	doc, err := fixtures.Load("../../fixtures/testdata/sample.yaml")
	So(err, ShouldBeNil)
	repo := memory.New()
	So(fixtures.Seed(context.Background(), repo, &doc), ShouldBeNil)
	return repo, snapshot.New(repo, snapshot.WithClock(clock)), finalize.New(repo, finalize.WithClock(clock))
}

func TestRunBatchIsolation(t *testing.T) {
	ctx := context.Background()

	Convey("Given snapshots for three employees where employee 2's ability has no label", t, func() {
		repo, snapshots, processor := seeded()
		var ids []int64
		for _, emp := range []int64{1, 2, 3} {
			snap, err := snapshots.Create(ctx, snapshot.CreateRequest{
				EmployeeID:  emp,
				CreatedByID: 7,
				ChangeType:  "bulk_check_in_finalization",
				FormParams:  json.RawMessage(`{"check_in_1_shared_notes": "Reviewed"}`),
			})
			So(err, ShouldBeNil)
			ids = append(ids, snap.ID)
		}
		orch := bulk.New(processor, bulk.WithConcurrency(2), bulk.WithClock(clock))

		Convey("When the batch runs", func() {
			report := orch.RunBatch(ctx, ids)

			Convey("Then there is one result per input in input order", func() {
				So(report.ID, ShouldNotBeBlank)
				So(report.Results, ShouldHaveLength, 3)
				for i, r := range report.Results {
					So(r.Index, ShouldEqual, i)
					So(r.SnapshotID, ShouldEqual, ids[i])
					So(r.EmployeeID, ShouldEqual, int64(i+1))
				}
			})

			Convey("Then employees 1 and 3 succeed and employee 2 fails", func() {
				So(report.Results[0].Success, ShouldBeTrue)
				So(report.Results[0].ProcessedAt, ShouldNotBeNil)
				So(report.Results[2].Success, ShouldBeTrue)
				So(report.Results[1].Success, ShouldBeFalse)
				So(report.Results[1].ErrorKind, ShouldEqual, string(fault.KindAttributeResolution))
				So(report.Results[1].Message, ShouldContainSubstring, "ability 2")
				So(report.Succeeded, ShouldEqual, 2)
				So(report.Failed, ShouldEqual, 1)
			})

			Convey("Then employee 2 has no writes", func() {
				So(repo.View(ctx, func(r repository.Reader) error {
					ci, err := r.OpenCheckIn(ctx, 2, 1)
					So(err, ShouldBeNil)
					So(ci.SharedNotes, ShouldBeBlank)

					ms, err := r.Milestones(ctx, 2)
					So(err, ShouldBeNil)
					So(ms, ShouldHaveLength, 1)

					snap, err := r.Snapshot(ctx, ids[1])
					So(err, ShouldBeNil)
					So(snap.ProcessedAt, ShouldBeNil)
					return nil
				}), ShouldBeNil)
			})

			Convey("Then a rerun reports the finalized snapshots as already processed", func() {
				again := orch.RunBatch(ctx, ids)
				So(again.Results[0].AlreadyProcessed, ShouldBeTrue)
				So(again.Results[0].Success, ShouldBeTrue)
				So(again.Results[2].AlreadyProcessed, ShouldBeTrue)
				So(again.Results[1].ErrorKind, ShouldEqual, string(fault.KindAttributeResolution))
				So(again.AlreadyProcessed, ShouldEqual, 2)
			})
		})
	})
}

func TestRunForEmployees(t *testing.T) {
	ctx := context.Background()

	Convey("Given an orchestrator that can capture snapshots", t, func() {
		_, snapshots, processor := seeded()
		orch := bulk.New(processor, bulk.WithSnapshotCreator(snapshots))

		Convey("When employees are finalized in one request", func() {
			report, err := orch.RunForEmployees(ctx, model.EmployeeBatchRequest{
				CreatedByID: 7,
				ChangeType:  "bulk_finalization",
				Reason:      "Q2",
				Employees: []model.EmployeeChange{
					{EmployeeID: 1, FormParams: json.RawMessage(`{"check_in_1_final_rating": "meeting"}`)},
					{EmployeeID: 2},
					{EmployeeID: 404},
					{EmployeeID: 3},
				},
			})
			So(err, ShouldBeNil)

			Convey("Then each employee gets its own outcome", func() {
				So(report.Results, ShouldHaveLength, 4)
				So(report.Results[0].Success, ShouldBeTrue)
				So(report.Results[0].SnapshotID, ShouldBeGreaterThan, 0)
				So(report.Results[1].ErrorKind, ShouldEqual, string(fault.KindAttributeResolution))
				So(report.Results[2].ErrorKind, ShouldEqual, string(fault.KindConstruction))
				So(report.Results[2].EmployeeID, ShouldEqual, 404)
				So(report.Results[3].Success, ShouldBeTrue)
			})

			Convey("Then the created snapshots are stored", func() {
				list, err := snapshots.List(ctx, model.SnapshotFilter{})
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 3)
			})
		})

		Convey("When one employee is named twice", func() {
			fp := json.RawMessage(`{"check_in_1_shared_notes": "Steady", "check_in_2_shared_notes": "Mentoring"}`)
			_, err := orch.RunForEmployees(ctx, model.EmployeeBatchRequest{
				CreatedByID: 7,
				ChangeType:  "bulk_finalization",
				Employees:   []model.EmployeeChange{{EmployeeID: 1, FormParams: fp}, {EmployeeID: 1, FormParams: fp}},
			})

			Convey("Then the request is rejected before anything is written", func() {
				So(fault.KindOf(err), ShouldEqual, fault.KindValidation)
				So(errors.Is(err, bulk.ErrDuplicateEmployee), ShouldBeTrue)
				list, err := snapshots.List(ctx, model.SnapshotFilter{})
				So(err, ShouldBeNil)
				So(list, ShouldBeEmpty)
			})
		})

		Convey("When the change type is not finalizable", func() {
			_, err := orch.RunForEmployees(ctx, model.EmployeeBatchRequest{ChangeType: "exploration"})
			So(fault.KindOf(err), ShouldEqual, fault.KindValidation)
		})

		Convey("When no creator is configured", func() {
			_, err := bulk.New(processor).RunForEmployees(ctx, model.EmployeeBatchRequest{ChangeType: "bulk_finalization"})
			So(errors.Is(err, bulk.ErrNoCreator), ShouldBeTrue)
		})
	})
}

func TestRunBatchFailureBoundaries(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scripted finalizer", t, func() {
		mock := &finalizerMock{fn: func(id int64, call int) (finalize.Result, error) {
			now := clock()
			switch id {
			case 1:
				if call < 3 {
					return finalize.Result{}, fault.New("test", fault.KindPersistence, "database is locked")
				}
			case 2:
				panic("boom")
			case 3:
				return finalize.Result{}, fault.New("test", fault.KindConstruction, "bad tenure")
			}
			return finalize.Result{SnapshotID: id, EmployeeID: id * 10, ProcessedAt: &now}, nil
		}}

		Convey("When persistence failures are retried enough", func() {
			orch := bulk.New(mock, bulk.WithRetry(3, time.Millisecond))
			report := orch.RunBatch(ctx, []int64{1, 2, 3, 4})

			Convey("Then the retried unit succeeds on its third attempt", func() {
				So(report.Results[0].Success, ShouldBeTrue)
				So(report.Results[0].Attempts, ShouldEqual, 3)
				So(report.Results[0].EmployeeID, ShouldEqual, 10)
			})

			Convey("Then a panic is recorded as an internal error", func() {
				So(report.Results[1].Success, ShouldBeFalse)
				So(report.Results[1].ErrorKind, ShouldEqual, string(fault.KindInternal))
				So(report.Results[1].Message, ShouldContainSubstring, "boom")
			})

			Convey("Then non-retryable failures are attempted once", func() {
				So(report.Results[2].ErrorKind, ShouldEqual, string(fault.KindConstruction))
				So(report.Results[2].Attempts, ShouldEqual, 1)
				So(mock.count(3), ShouldEqual, 1)
				So(report.Results[3].Success, ShouldBeTrue)
			})
		})

		Convey("When attempts run out", func() {
			orch := bulk.New(mock, bulk.WithRetry(2, time.Millisecond))
			report := orch.RunBatch(ctx, []int64{1})
			So(report.Results[0].ErrorKind, ShouldEqual, string(fault.KindPersistence))
			So(report.Results[0].Attempts, ShouldEqual, 2)
		})

		Convey("When the context is canceled before the run", func() {
			canceledCtx, cancel := context.WithCancel(ctx)
			cancel()
			report := bulk.New(mock).RunBatch(canceledCtx, []int64{4, 4, 4})

			So(report.Results, ShouldHaveLength, 3)
			for _, r := range report.Results {
				So(r.ErrorKind, ShouldEqual, string(fault.KindCanceled))
				So(r.Attempts, ShouldEqual, 0)
			}
			So(mock.count(4), ShouldEqual, 0)
		})

		Convey("When a snapshot id is repeated", func() {
			report := bulk.New(mock).RunBatch(ctx, []int64{5, 6, 5})

			Convey("Then only its first occurrence is finalized", func() {
				So(report.Results, ShouldHaveLength, 3)
				So(report.Results[0].Success, ShouldBeTrue)
				So(report.Results[1].Success, ShouldBeTrue)
				So(report.Results[2].Success, ShouldBeFalse)
				So(report.Results[2].ErrorKind, ShouldEqual, string(fault.KindValidation))
				So(report.Results[2].SnapshotID, ShouldEqual, 5)
				So(mock.count(5), ShouldEqual, 1)
			})
		})

		Convey("When the context carries a report id", func() {
			report := bulk.New(mock).RunBatch(bulk.WithReportID(ctx, "job-7"), []int64{4})
			So(report.ID, ShouldEqual, "job-7")
		})

		Convey("When the batch is empty", func() {
			report := bulk.New(mock).RunBatch(ctx, nil)
			So(report.Results, ShouldBeEmpty)
			So(report.Succeeded, ShouldEqual, 0)
		})
	})
}

package types_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/maap/internal/domain/model"
	types "github.com/okian/maap/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBatchRequest(t *testing.T) {
	Convey("Given batch requests", t, func() {
		Convey("When nothing is named", func() {
			So(types.BatchRequest{}.Validate(), ShouldEqual, types.ErrEmptyBatch)
			So(types.BatchRequest{Employees: &model.EmployeeBatchRequest{}}.Validate(), ShouldEqual, types.ErrEmptyBatch)
		})

		Convey("When both snapshots and employees are named", func() {
			req := types.BatchRequest{
				SnapshotIDs: []int64{1},
				Employees:   &model.EmployeeBatchRequest{Employees: []model.EmployeeChange{{EmployeeID: 2}}},
			}
			So(req.Validate(), ShouldEqual, types.ErrAmbiguousBatch)
		})

		Convey("When an item is named twice", func() {
			dupSnapshots := types.BatchRequest{SnapshotIDs: []int64{4, 5, 4}}
			dupEmployees := types.BatchRequest{Employees: &model.EmployeeBatchRequest{
				Employees: []model.EmployeeChange{{EmployeeID: 1}, {EmployeeID: 1}},
			}}

			Convey("Then the request is rejected", func() {
				So(errors.Is(dupSnapshots.Validate(), types.ErrDuplicateBatch), ShouldBeTrue)
				So(errors.Is(dupEmployees.Validate(), types.ErrDuplicateBatch), ShouldBeTrue)
			})
		})

		Convey("When snapshots are named", func() {
			ids := []int64{3, 1}
			req := types.BatchRequest{RequestID: "r-1", SnapshotIDs: ids}
			So(req.Validate(), ShouldBeNil)

			at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
			job := req.Job("job-1", at)

			Convey("Then the job carries a private copy of the ids", func() {
				So(job.ID, ShouldEqual, "job-1")
				So(job.RequestID, ShouldEqual, "r-1")
				So(job.SubmittedAt, ShouldEqual, at)
				So(job.Employees, ShouldBeNil)
				So(job.Size(), ShouldEqual, 2)
				ids[0] = 99
				So(job.SnapshotIDs[0], ShouldEqual, 3)
			})
		})

		Convey("When employees are named", func() {
			req := types.BatchRequest{Employees: &model.EmployeeBatchRequest{
				CreatedByID: 7,
				ChangeType:  "bulk_check_in_finalization",
				Employees:   []model.EmployeeChange{{EmployeeID: 1}, {EmployeeID: 2}},
			}}
			So(req.Validate(), ShouldBeNil)

			job := req.Job("job-2", time.Now())
			So(job.SnapshotIDs, ShouldBeNil)
			So(job.Employees.CreatedByID, ShouldEqual, 7)
			So(job.Size(), ShouldEqual, 2)
		})
	})
}

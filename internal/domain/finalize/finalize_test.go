package finalize_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/adapters/repository/memory"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/finalize"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/internal/fixtures"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ticker advances one minute per call so successive finalizations are ordered.
func ticker() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Minute)
	}
}

type env struct {
	repo      *memory.Store
	snapshots *snapshot.Store
	processor *finalize.Processor
}

func setup() env {
	doc, err := fixtures.Load("../../fixtures/testdata/sample.yaml")
	So(err, ShouldBeNil)
	repo := memory.New()
	So(fixtures.Seed(context.Background(), repo, &doc), ShouldBeNil)
	clock := ticker()
	return env{
		repo:      repo,
		snapshots: snapshot.New(repo, snapshot.WithClock(clock)),
		processor: finalize.New(repo, finalize.WithClock(clock)),
	}
}

func (e env) create(employeeID int64, changeType, formParams string) model.Snapshot {
	snap, err := e.snapshots.Create(context.Background(), snapshot.CreateRequest{
		EmployeeID:  employeeID,
		CreatedByID: 7,
		ChangeType:  changeType,
		FormParams:  json.RawMessage(formParams),
	})
	So(err, ShouldBeNil)
	return snap
}

func (e env) milestones(employeeID int64) []model.Milestone {
	var out []model.Milestone
	So(e.repo.View(context.Background(), func(r repository.Reader) error {
		var err error
		out, err = r.Milestones(context.Background(), employeeID)
		return err
	}), ShouldBeNil)
	return out
}

func (e env) openCheckIn(employeeID, assignmentID int64) (model.CheckIn, error) {
	var ci model.CheckIn
	err := e.repo.View(context.Background(), func(r repository.Reader) error {
		var err error
		ci, err = r.OpenCheckIn(context.Background(), employeeID, assignmentID)
		return err
	})
	return ci, err
}

func (e env) tenures(employeeID int64) map[int64]model.AssignmentTenure {
	out := map[int64]model.AssignmentTenure{}
	So(e.repo.View(context.Background(), func(r repository.Reader) error {
		list, err := r.ActiveAssignmentTenures(context.Background(), employeeID, base)
		for _, t := range list {
			out[t.AssignmentID] = t
		}
		return err
	}), ShouldBeNil)
	return out
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	Convey("Given the seeded sample organization", t, func() {
		e := setup()

		Convey("When employee 1 is finalized with proposals", func() {
			snap := e.create(1, "bulk_check_in_finalization",
				`{"check_in_1_final_rating": "meeting", "check_in_2_shared_notes": "Mentoring notes", "milestone_1_level": 2, "unrelated": "x"}`)
			res, err := e.processor.Process(ctx, snap.ID)
			So(err, ShouldBeNil)

			Convey("Then both check-ins are written with assignment labels", func() {
				So(res.AlreadyProcessed, ShouldBeFalse)
				So(res.ProcessedAt, ShouldNotBeNil)
				So(res.CheckIns, ShouldHaveLength, 2)

				So(res.CheckIns[0].AssignmentTitle, ShouldEqual, "Backend Engineer")
				So(res.CheckIns[0].Created, ShouldBeFalse)
				So(res.CheckIns[0].SharedNotes, ShouldEqual, "Existing shared notes")
				So(res.CheckIns[0].OfficialRating, ShouldEqual, model.RatingMeeting)

				So(res.CheckIns[1].AssignmentTitle, ShouldEqual, "Mentor")
				So(res.CheckIns[1].Created, ShouldBeTrue)
				So(res.CheckIns[1].SharedNotes, ShouldEqual, "Mentoring notes")
			})

			Convey("Then no check-in stays open", func() {
				_, err := e.openCheckIn(1, 1)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = e.openCheckIn(1, 2)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then the rating is copied onto the assignment tenure", func() {
				So(e.tenures(1)[1].OfficialRating, ShouldEqual, model.RatingMeeting)
				So(e.tenures(1)[2].OfficialRating.IsZero(), ShouldBeTrue)
			})

			Convey("Then every milestone of the first finalization is reported", func() {
				So(res.Milestones, ShouldHaveLength, 2)
				So(res.Milestones[0].AbilityTitle, ShouldEqual, "Distributed Systems")
				So(res.Milestones[0].Level, ShouldEqual, 1)
				So(res.Milestones[0].Created, ShouldBeFalse)
				So(res.Milestones[1].Level, ShouldEqual, 2)
				So(res.Milestones[1].Created, ShouldBeTrue)
				So(e.milestones(1), ShouldHaveLength, 2)
			})

			Convey("Then the stored maap data is untouched", func() {
				data, err := e.snapshots.MaapData(ctx, snap.ID)
				So(err, ShouldBeNil)
				So(data, ShouldResemble, snap.MaapData)
			})

			Convey("Then processing again reports already processed without writes", func() {
				again, err := e.processor.Process(ctx, snap.ID)
				So(errors.Is(err, fault.ErrAlreadyProcessed), ShouldBeTrue)
				So(again.AlreadyProcessed, ShouldBeTrue)
				So(again.CheckIns, ShouldBeEmpty)
				So(e.milestones(1), ShouldHaveLength, 2)
			})

			Convey("Then a later finalization only reports newer milestones", func() {
				next := e.create(1, "ability_milestone_management", `{"milestone_1_level": 3, "milestone_1_level_note": "ignored"}`)
				res, err := e.processor.Process(ctx, next.ID)
				So(err, ShouldBeNil)
				So(res.CheckIns, ShouldBeEmpty)
				So(res.Milestones, ShouldHaveLength, 1)
				So(res.Milestones[0].Level, ShouldEqual, 3)
			})

			Convey("Then a proposal at or below the current level creates nothing", func() {
				next := e.create(1, "milestone_update", `{"milestone_1_level": 1}`)
				res, err := e.processor.Process(ctx, next.ID)
				So(err, ShouldBeNil)
				So(res.Milestones, ShouldBeEmpty)
				So(e.milestones(1), ShouldHaveLength, 2)
			})
		})

		Convey("When employee 2's ability has no display label", func() {
			snap := e.create(2, "bulk_check_in_finalization", `{"check_in_1_shared_notes": "should not land"}`)
			res, err := e.processor.Process(ctx, snap.ID)

			Convey("Then the failure is classified", func() {
				So(fault.KindOf(err), ShouldEqual, fault.KindAttributeResolution)
				So(errors.Is(err, fault.ErrAttributeResolution), ShouldBeTrue)
				So(res.AlreadyProcessed, ShouldBeFalse)
				So(res.CheckIns, ShouldBeEmpty)
			})

			Convey("Then every write is rolled back", func() {
				ci, err := e.openCheckIn(2, 1)
				So(err, ShouldBeNil)
				So(ci.SharedNotes, ShouldBeBlank)
				So(ci.OfficialCheckInCompletedAt, ShouldBeNil)

				got, err := e.snapshots.Get(ctx, snap.ID)
				So(err, ShouldBeNil)
				So(got.ProcessedAt, ShouldBeNil)
				So(e.milestones(2), ShouldHaveLength, 1)
			})
		})

		Convey("When employee 3 is finalized with empty form params", func() {
			snap := e.create(3, "check_in_finalization", ``)
			res, err := e.processor.Process(ctx, snap.ID)
			So(err, ShouldBeNil)

			Convey("Then the persisted check-in is completed as is", func() {
				So(res.CheckIns, ShouldHaveLength, 1)
				So(res.CheckIns[0].OfficialRating.IsZero(), ShouldBeTrue)
				So(res.Milestones, ShouldBeEmpty)
				So(e.tenures(3)[1].OfficialRating.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When the snapshot cannot be finalized", func() {
			snap := e.create(1, "manual_edit", `{}`)
			_, err := e.processor.Process(ctx, snap.ID)
			So(fault.KindOf(err), ShouldEqual, fault.KindValidation)

			got, err := e.snapshots.Get(ctx, snap.ID)
			So(err, ShouldBeNil)
			So(got.ProcessedAt, ShouldBeNil)
		})

		Convey("When a milestone is proposed for an unknown ability", func() {
			snap := e.create(1, "bulk_check_in_finalization", `{"milestone_99_level": 1}`)
			_, err := e.processor.Process(ctx, snap.ID)
			So(fault.KindOf(err), ShouldEqual, fault.KindValidation)
			_, err = e.openCheckIn(1, 1)
			So(err, ShouldBeNil)
		})

		Convey("When the snapshot does not exist", func() {
			_, err := e.processor.Process(ctx, 4242)
			So(fault.KindOf(err), ShouldEqual, fault.KindNotFound)
		})
	})
}

func TestConcurrentProcess(t *testing.T) {
	Convey("Given one snapshot processed from many goroutines", t, func() {
		e := setup()
		snap := e.create(1, "bulk_check_in_finalization", `{"milestone_1_level": 2}`)

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			already   atomic.Int32
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.processor.Process(context.Background(), snap.ID)
				switch {
				case err == nil:
					succeeded.Add(1)
				case res.AlreadyProcessed:
					already.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one attempt applies the writes", func() {
			So(succeeded.Load(), ShouldEqual, 1)
			So(already.Load(), ShouldEqual, 7)
			So(e.milestones(1), ShouldHaveLength, 2)
		})
	})
}

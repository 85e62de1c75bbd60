// Package repotest holds the behaviour every repository.Store must share.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// Factory returns a fresh empty store for one test case.
type Factory func() repository.Store

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed test clock

// Run exercises the store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) { //nolint:funlen // one suite per contract
	t.Helper()
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		store := newStore()
		Reset(func() { _ = store.Close() })

		Convey("When reading missing records", func() {
			err := store.View(ctx, func(r repository.Reader) error {
				_, err := r.Employee(ctx, 42)
				return err
			})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When seeding an employee with tenures", func() {
			ended := epoch.AddDate(0, 3, 0)
			var empID, a1, a2, oldTenure int64
			err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
				e := model.Employee{Name: "Ada", OrganizationID: 1}
				if err := tx.PutEmployee(ctx, &e); err != nil {
					return err
				}
				empID = e.ID
				if err := tx.PutEmploymentTenure(ctx, &model.EmploymentTenure{EmployeeID: e.ID, OrganizationID: 1, StartedAt: epoch}); err != nil {
					return err
				}
				for _, title := range []string{"Engineer", "Mentor"} {
					a := model.Assignment{OrganizationID: 1, Title: title}
					if err := tx.PutAssignment(ctx, &a); err != nil {
						return err
					}
					if a1 == 0 {
						a1 = a.ID
					} else {
						a2 = a.ID
					}
				}
				old := model.AssignmentTenure{EmployeeID: e.ID, AssignmentID: a2, AnticipatedEnergyPercentage: 10, StartedAt: epoch, EndedAt: &ended}
				if err := tx.PutAssignmentTenure(ctx, &old); err != nil {
					return err
				}
				oldTenure = old.ID
				if err := tx.PutAssignmentTenure(ctx, &model.AssignmentTenure{
					EmployeeID: e.ID, AssignmentID: a1, AnticipatedEnergyPercentage: 50,
					OfficialRating: model.RatingWorkingToMeet, StartedAt: epoch,
				}); err != nil {
					return err
				}
				return tx.PutAssignmentTenure(ctx, &model.AssignmentTenure{
					EmployeeID: e.ID, AssignmentID: a2, AnticipatedEnergyPercentage: 30, StartedAt: ended,
				})
			})
			So(err, ShouldBeNil)
			So(empID, ShouldBeGreaterThan, 0)

			Convey("Then only tenures active at the instant are returned", func() {
				var early, late []model.AssignmentTenure
				err := store.View(ctx, func(r repository.Reader) error {
					var err error
					if early, err = r.ActiveAssignmentTenures(ctx, empID, epoch.AddDate(0, 1, 0)); err != nil {
						return err
					}
					late, err = r.ActiveAssignmentTenures(ctx, empID, epoch.AddDate(1, 0, 0))
					return err
				})
				So(err, ShouldBeNil)
				So(early, ShouldHaveLength, 2)
				So(late, ShouldHaveLength, 2)
				ids := map[int64]bool{}
				for _, at := range late {
					ids[at.ID] = true
				}
				So(ids[oldTenure], ShouldBeFalse)
			})

			Convey("Then the employment tenure resolves", func() {
				err := store.View(ctx, func(r repository.Reader) error {
					et, err := r.ActiveEmploymentTenure(ctx, empID, epoch)
					if err != nil {
						return err
					}
					So(et.EmployeeID, ShouldEqual, empID)
					_, err = r.ActiveEmploymentTenure(ctx, empID, epoch.Add(-time.Hour))
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					return nil
				})
				So(err, ShouldBeNil)
			})

			Convey("And a tenure rating is updated", func() {
				err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
					return tx.UpdateAssignmentTenureRating(ctx, oldTenure, model.RatingExceeding)
				})
				So(err, ShouldBeNil)
				err = store.RunInTransaction(ctx, func(tx repository.Tx) error {
					return tx.UpdateAssignmentTenureRating(ctx, 9999, model.RatingExceeding)
				})
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("And check-ins are saved", func() {
				open := model.CheckIn{EmployeeID: empID, AssignmentID: a1, CheckInStartedOn: epoch, SharedNotes: "notes", OfficialRating: model.RatingMeeting}
				So(store.RunInTransaction(ctx, func(tx repository.Tx) error { return tx.SaveCheckIn(ctx, &open) }), ShouldBeNil)
				So(open.ID, ShouldBeGreaterThan, 0)

				Convey("Then a second open check-in for the pair is rejected", func() {
					dup := model.CheckIn{EmployeeID: empID, AssignmentID: a1, CheckInStartedOn: epoch}
					err := store.RunInTransaction(ctx, func(tx repository.Tx) error { return tx.SaveCheckIn(ctx, &dup) })
					So(errors.Is(err, repository.ErrDuplicateOpen), ShouldBeTrue)
				})

				Convey("Then completing it closes it", func() {
					done := epoch.Add(time.Hour)
					open.OfficialCheckInCompletedAt = &done
					So(store.RunInTransaction(ctx, func(tx repository.Tx) error { return tx.SaveCheckIn(ctx, &open) }), ShouldBeNil)
					err := store.View(ctx, func(r repository.Reader) error {
						_, err := r.OpenCheckIn(ctx, empID, a1)
						return err
					})
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				})

				Convey("Then the open check-in reads back intact", func() {
					err := store.View(ctx, func(r repository.Reader) error {
						c, err := r.OpenCheckIn(ctx, empID, a1)
						if err != nil {
							return err
						}
						So(c.SharedNotes, ShouldEqual, "notes")
						So(c.OfficialRating, ShouldEqual, model.RatingMeeting)
						So(c.CheckInStartedOn.Equal(epoch), ShouldBeTrue)
						return nil
					})
					So(err, ShouldBeNil)
				})
			})

			Convey("And milestones are created", func() {
				ab := model.Ability{OrganizationID: 1, Name: "Go"}
				err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
					if err := tx.PutAbility(ctx, &ab); err != nil {
						return err
					}
					if err := tx.CreateMilestone(ctx, &model.Milestone{EmployeeID: empID, AbilityID: ab.ID, Level: 2, AttainedAt: epoch.Add(time.Hour)}); err != nil {
						return err
					}
					return tx.CreateMilestone(ctx, &model.Milestone{EmployeeID: empID, AbilityID: ab.ID, Level: 1, AttainedAt: epoch})
				})
				So(err, ShouldBeNil)

				Convey("Then they list by attainment time", func() {
					var ms []model.Milestone
					So(store.View(ctx, func(r repository.Reader) error {
						var err error
						ms, err = r.Milestones(ctx, empID)
						return err
					}), ShouldBeNil)
					So(ms, ShouldHaveLength, 2)
					So(ms[0].Level, ShouldEqual, 1)
					So(ms[1].Level, ShouldEqual, 2)
				})
			})

			Convey("And a snapshot is inserted", func() {
				snap := model.Snapshot{
					EmployeeID:    empID,
					CreatedByID:   9,
					ChangeType:    model.ChangeBulkCheckInFinalization,
					Reason:        "cycle",
					MaapData:      model.MaapData{{AssignmentID: a1, AnticipatedEnergyPercentage: 50, OfficialRating: model.RatingWorkingToMeet}},
					FormParams:    []byte(`{ "check_in_1_shared_notes" : "x" }`),
					EffectiveDate: epoch,
					CreatedAt:     epoch,
				}
				So(store.RunInTransaction(ctx, func(tx repository.Tx) error { return tx.InsertSnapshot(ctx, &snap) }), ShouldBeNil)

				Convey("Then it reads back with verbatim form params", func() {
					var got model.Snapshot
					So(store.View(ctx, func(r repository.Reader) error {
						var err error
						got, err = r.Snapshot(ctx, snap.ID)
						return err
					}), ShouldBeNil)
					So(string(got.FormParams), ShouldEqual, `{ "check_in_1_shared_notes" : "x" }`)
					So(got.MaapData, ShouldResemble, snap.MaapData)
					So(got.ChangeType, ShouldEqual, model.ChangeBulkCheckInFinalization)
					So(got.ProcessedAt, ShouldBeNil)
				})

				Convey("Then processed_at is set only once", func() {
					at := epoch.Add(2 * time.Hour)
					So(store.RunInTransaction(ctx, func(tx repository.Tx) error {
						return tx.MarkSnapshotProcessed(ctx, snap.ID, at)
					}), ShouldBeNil)
					err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
						return tx.MarkSnapshotProcessed(ctx, snap.ID, at.Add(time.Hour))
					})
					So(errors.Is(err, repository.ErrAlreadyProcessed), ShouldBeTrue)

					var last *time.Time
					So(store.View(ctx, func(r repository.Reader) error {
						var err error
						last, err = r.LastProcessedAt(ctx, empID, 0)
						return err
					}), ShouldBeNil)
					So(last, ShouldNotBeNil)
					So(last.Equal(at), ShouldBeTrue)

					So(store.View(ctx, func(r repository.Reader) error {
						var err error
						last, err = r.LastProcessedAt(ctx, empID, snap.ID)
						return err
					}), ShouldBeNil)
					So(last, ShouldBeNil)
				})

				Convey("Then listing filters by processed state", func() {
					no := false
					var list []model.Snapshot
					So(store.View(ctx, func(r repository.Reader) error {
						var err error
						list, err = r.ListSnapshots(ctx, model.SnapshotFilter{EmployeeID: empID, Processed: &no})
						return err
					}), ShouldBeNil)
					So(list, ShouldHaveLength, 1)
				})

				Convey("Then marking a missing snapshot fails", func() {
					err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
						return tx.MarkSnapshotProcessed(ctx, snap.ID+100, epoch)
					})
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				})
			})
		})

		Convey("When a transaction fails", func() {
			boom := errors.New("boom")
			err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
				if err := tx.PutEmployee(ctx, &model.Employee{ID: 77, Name: "Ghost"}); err != nil {
					return err
				}
				return boom
			})

			Convey("Then nothing it wrote is visible", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				verr := store.View(ctx, func(r repository.Reader) error {
					_, err := r.Employee(ctx, 77)
					return err
				})
				So(errors.Is(verr, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the context is already canceled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			err := store.RunInTransaction(cctx, func(tx repository.Tx) error { return nil })
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

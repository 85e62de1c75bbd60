package fixtures_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/adapters/repository/memory"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/fixtures"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Given the sample fixture file", t, func() {
		doc, err := fixtures.Load(filepath.Join("testdata", "sample.yaml"))
		So(err, ShouldBeNil)

		Convey("Then every section decodes", func() {
			So(doc.Employees, ShouldHaveLength, 3)
			So(doc.EmploymentTenures, ShouldHaveLength, 3)
			So(doc.Assignments, ShouldHaveLength, 2)
			So(doc.AssignmentTenures, ShouldHaveLength, 4)
			So(doc.Abilities, ShouldHaveLength, 2)
			So(doc.CheckIns, ShouldHaveLength, 3)
			So(doc.Milestones, ShouldHaveLength, 2)

			So(doc.AssignmentTenures[0].OfficialRating, ShouldEqual, model.RatingWorkingToMeet)
			So(doc.AssignmentTenures[1].OfficialRating, ShouldEqual, model.RatingUnrated)
			So(doc.CheckIns[0].SharedNotes, ShouldEqual, "Existing shared notes")
			So(doc.Milestones[0].Level, ShouldEqual, 1)
			So(doc.EmploymentTenures[0].StartedAt.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(doc.EmploymentTenures[0].EndedAt, ShouldBeNil)
		})

		Convey("When seeded into a store", func() {
			ctx := context.Background()
			store := memory.New()
			So(fixtures.Seed(ctx, store, &doc), ShouldBeNil)

			Convey("Then records are readable with their ids", func() {
				err := store.View(ctx, func(r repository.Reader) error {
					e, err := r.Employee(ctx, 2)
					if err != nil {
						return err
					}
					So(e.Name, ShouldEqual, "Grace Hopper")
					ci, err := r.OpenCheckIn(ctx, 1, 1)
					if err != nil {
						return err
					}
					So(ci.OfficialRating, ShouldEqual, model.RatingExceeding)
					return nil
				})
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Given inline fixture documents", t, func() {
		Convey("When the document is valid", func() {
			doc, err := fixtures.Parse([]byte("employees:\n  - name: Solo\n    organization_id: 4\n"))
			So(err, ShouldBeNil)
			So(doc.Employees, ShouldHaveLength, 1)
			So(doc.Employees[0].OrganizationID, ShouldEqual, 4)
		})

		Convey("When the YAML is malformed", func() {
			_, err := fixtures.Parse([]byte("employees: [\n"))
			So(errors.Is(err, fixtures.ErrLoadFixtures), ShouldBeTrue)
		})

		Convey("When the file is missing", func() {
			_, err := fixtures.Load(filepath.Join("testdata", "missing.yaml"))
			So(errors.Is(err, fixtures.ErrLoadFixtures), ShouldBeTrue)
		})
	})
}

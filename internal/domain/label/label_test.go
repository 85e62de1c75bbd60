package label_test

import (
	"errors"
	"testing"

	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/label"
	"github.com/okian/maap/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestResolve(t *testing.T) {
	Convey("Given labeled records", t, func() {
		Convey("When the ability has a name", func() {
			v, err := label.Resolve("op", "ability 1", model.Ability{ID: 1, Name: "  Go  "})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "Go")
		})

		Convey("When the assignment has a title", func() {
			v, err := label.Resolve("op", "assignment 1", model.Assignment{ID: 1, Title: "Tech Lead"})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "Tech Lead")
		})

		Convey("When the ability name is blank", func() {
			_, err := label.Resolve("finalize", "ability 2", model.Ability{ID: 2, Name: " "})

			Convey("Then it is an attribute resolution error", func() {
				So(errors.Is(err, fault.ErrAttributeResolution), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "ability 2")
			})
		})

		Convey("When the record is nil", func() {
			_, err := label.Resolve("finalize", "ability 3", nil)
			So(fault.KindOf(err), ShouldEqual, fault.KindAttributeResolution)
		})
	})
}

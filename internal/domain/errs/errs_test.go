package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/bet/internal/domain/errs"
	. "github.com/smartystreets/goconvey/convey"
)

func TestKinds(t *testing.T) {
	Convey("Given the error taxonomy", t, func() {
		Convey("Specific not-found kinds match the root kind", func() {
			for _, err := range []error{errs.ErrRuleNotFound, errs.ErrEventNotFound, errs.ErrGroupNotFound, errs.ErrUserNotFound} {
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
				So(errors.Is(err, errs.ErrValidation), ShouldBeFalse)
			}
		})

		Convey("Self veto is a validation failure", func() {
			So(errors.Is(errs.ErrSelfVeto, errs.ErrValidation), ShouldBeTrue)
			So(errs.Code(errs.ErrSelfVeto), ShouldEqual, "self_veto")
		})

		Convey("Store wraps both the kind and the cause", func() {
			cause := errors.New("disk full")
			err := errs.Store("submit", cause)
			So(errors.Is(err, errs.ErrStore), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(errs.Store("submit", nil), ShouldBeNil)
		})

		Convey("Code sees through wrapping", func() {
			So(errs.Code(fmt.Errorf("veto e1: %w", errs.ErrEventNotFound)), ShouldEqual, "event_not_found")
			So(errs.Code(errs.Invalid("missing userId")), ShouldEqual, "validation_failed")
			So(errs.Code(errors.New("other")), ShouldEqual, "internal_error")
			So(errs.Code(nil), ShouldEqual, "")
		})
	})
}

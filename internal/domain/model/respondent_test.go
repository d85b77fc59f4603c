package model_test

import (
	"testing"

	"github.com/okian/fieldwork/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRespondentStatus(t *testing.T) {
	Convey("Given the S2S status codes", t, func() {
		Convey("Then only 2 through 5 are terminal", func() {
			So(model.RespondentInSurvey.IsTerminal(), ShouldBeFalse)
			So(model.RespondentTerminate.IsTerminal(), ShouldBeTrue)
			So(model.RespondentOverquota.IsTerminal(), ShouldBeTrue)
			So(model.RespondentQualityTerminate.IsTerminal(), ShouldBeTrue)
			So(model.RespondentComplete.IsTerminal(), ShouldBeTrue)
			So(model.RespondentStatus(0).IsTerminal(), ShouldBeFalse)
			So(model.RespondentStatus(9).IsTerminal(), ShouldBeFalse)
		})

		Convey("Then undocumented codes are unknown", func() {
			So(model.RespondentStatus(1).IsKnown(), ShouldBeTrue)
			So(model.RespondentStatus(7).IsKnown(), ShouldBeFalse)
			So(model.RespondentStatus(7).String(), ShouldEqual, "unknown_7")
			So(model.RespondentComplete.String(), ShouldEqual, "complete")
		})
	})
}

func TestRespondentValidation_Admit(t *testing.T) {
	Convey("Given validation results", t, func() {
		Convey("When the status is 1", func() {
			v := model.RespondentValidation{RespondentID: "abc", Status: model.RespondentInSurvey}

			Convey("Then the respondent is admitted", func() {
				So(v.Admit(), ShouldBeTrue)
			})
		})

		Convey("When the status is anything else", func() {
			for _, s := range []model.RespondentStatus{0, 2, 3, 4, 5, 6, 42} {
				v := model.RespondentValidation{RespondentID: "abc", Status: s}
				So(v.Admit(), ShouldBeFalse)
			}
		})
	})
}

func TestAudienceDescriptor_IsEmpty(t *testing.T) {
	Convey("Given audience descriptors", t, func() {
		So(model.AudienceDescriptor{}.IsEmpty(), ShouldBeTrue)
		So(model.AudienceDescriptor{Countries: []string{"US"}}.IsEmpty(), ShouldBeFalse)
		So(model.AudienceDescriptor{MinAge: 18}.IsEmpty(), ShouldBeFalse)
	})
}

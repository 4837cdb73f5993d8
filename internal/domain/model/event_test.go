package model_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	model "github.com/okian/parry/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func validEvent() model.EventLog {
	return model.EventLog{
		EventTime:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*60*60)),
		EventName:     "spawn",
		SessionID:     "sess-1",
		GameIndex:     2,
		Stage:         "3",
		PatternType:   "single",
		SequenceOrder: 14,
		DelayMS:       800,
	}
}

func TestParseEventName(t *testing.T) {
	convey.Convey("Given event names from the client", t, func() {
		convey.Convey("Then canonical and short forms are accepted", func() {
			for in, want := range map[string]model.EventName{
				"pattern_spawn":   model.EventSpawn,
				"spawn":           model.EventSpawn,
				"SUCCESS":         model.EventSuccess,
				" pattern_fail ":  model.EventFail,
				"pattern_success": model.EventSuccess,
			} {
				got, err := model.ParseEventName(in)
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldEqual, want)
			}
		})

		convey.Convey("Then unknown names are a validation error", func() {
			_, err := model.ParseEventName("pattern_parry")
			convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
		})
	})
}

func TestEventNormalize(t *testing.T) {
	convey.Convey("Given a valid event", t, func() {
		e := validEvent()

		convey.Convey("When it is normalized", func() {
			err := e.Normalize()

			convey.Convey("Then defaults and canonical forms are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(e.EventName, convey.ShouldEqual, model.EventSpawn)
				convey.So(e.UserID, convey.ShouldEqual, model.DefaultUserID)
				convey.So(e.EventTime.Location(), convey.ShouldEqual, time.UTC)
				convey.So(e.DedupeKey(), convey.ShouldEqual, "sess-1|2|14|pattern_spawn")
			})
		})

		convey.Convey("When required or bounded fields are wrong", func() {
			neg := -5
			huge := math.MaxInt32 + 1
			cases := map[string]func(*model.EventLog){
				"missing time":     func(e *model.EventLog) { e.EventTime = time.Time{} },
				"missing session":  func(e *model.EventLog) { e.SessionID = " " },
				"missing stage":    func(e *model.EventLog) { e.Stage = "" },
				"missing pattern":  func(e *model.EventLog) { e.PatternType = "" },
				"negative delay":   func(e *model.EventLog) { e.DelayMS = -1 },
				"negative order":   func(e *model.EventLog) { e.SequenceOrder = -1 },
				"negative game":    func(e *model.EventLog) { e.GameIndex = -1 },
				"negative react":   func(e *model.EventLog) { e.ReactionTimeMS = &neg },
				"array extra_meta": func(e *model.EventLog) { e.ExtraMeta = json.RawMessage(`[1,2]`) },
				"bad event name":   func(e *model.EventLog) { e.EventName = "dodge" },
				"oversized game":   func(e *model.EventLog) { e.GameIndex = 3_000_000_000 },
				"oversized order":  func(e *model.EventLog) { e.SequenceOrder = huge },
				"oversized delay":  func(e *model.EventLog) { e.DelayMS = huge },
				"oversized react":  func(e *model.EventLog) { e.ReactionTimeMS = &huge },
				"oversized score":  func(e *model.EventLog) { e.Score = &huge },
			}
			for _, mutate := range cases {
				bad := validEvent()
				mutate(&bad)
				err := bad.Normalize()
				convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
			}
		})

		convey.Convey("When integer fields sit at the 32-bit limit", func() {
			top := math.MaxInt32
			e.GameIndex, e.SequenceOrder, e.DelayMS = top, top, top
			e.ReactionTimeMS, e.Score = &top, &top

			convey.So(e.Normalize(), convey.ShouldBeNil)
		})

		convey.Convey("When extra_meta is an object or null", func() {
			e.ExtraMeta = json.RawMessage(`{"combo":3}`)
			convey.So(e.Normalize(), convey.ShouldBeNil)

			other := validEvent()
			other.ExtraMeta = json.RawMessage(`null`)
			convey.So(other.Normalize(), convey.ShouldBeNil)
			convey.So(other.ExtraMeta, convey.ShouldBeNil)
		})
	})
}

func TestNormalizeBatch(t *testing.T) {
	convey.Convey("Given a batch with one bad record", t, func() {
		batch := []model.EventLog{validEvent(), validEvent(), validEvent()}
		batch[2].SessionID = ""

		err := model.NormalizeBatch(batch)

		convey.Convey("Then the error names the offending index", func() {
			convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldStartWith, "event 2:")
		})
	})
}

func TestSubmissionNormalize(t *testing.T) {
	convey.Convey("Given ranking submissions", t, func() {
		convey.Convey("When the nickname has surrounding spaces", func() {
			s := model.Submission{Nickname: "  ace ", Password: "pw1", Score: 100, SessionID: "s"}

			convey.So(s.Normalize(), convey.ShouldBeNil)
			convey.So(s.Nickname, convey.ShouldEqual, "ace")
		})

		convey.Convey("When a 32 character multibyte nickname is sent", func() {
			s := model.Submission{Nickname: "패리패리패리패리패리패리패리패리패리패리패리패리패리패리패리패리", Password: "pw", SessionID: "s"}

			convey.So(s.Normalize(), convey.ShouldBeNil)
		})

		convey.Convey("When fields are out of bounds", func() {
			long := make([]byte, model.MaxPasswordBytes+1)
			for i := range long {
				long[i] = 'x'
			}
			for _, s := range []model.Submission{
				{Nickname: "", Password: "pw", SessionID: "s"},
				{Nickname: "abcdefghijklmnopqrstuvwxyz0123456", Password: "pw", SessionID: "s"},
				{Nickname: "ace", Password: "", SessionID: "s"},
				{Nickname: "ace", Password: string(long), SessionID: "s"},
				{Nickname: "ace", Password: "pw", Score: -1, SessionID: "s"},
				{Nickname: "ace", Password: "pw", SessionID: ""},
			} {
				err := s.Normalize()
				convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
			}
		})
	})
}

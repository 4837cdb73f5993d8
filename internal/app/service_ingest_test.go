package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/parry/internal/adapters/repository"
	service "github.com/okian/parry/internal/app"
	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// flakyEvents fails the first failures InsertBatch calls, then delegates.
type flakyEvents struct {
	*repository.MemoryEventLog
	failures int
}

var errDiskFull = errors.New("disk full")

func (f *flakyEvents) InsertBatch(ctx context.Context, events []model.EventLog) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errDiskFull
	}
	return f.MemoryEventLog.InsertBatch(ctx, events)
}

// stallingEvents parks the first InsertBatch until release is closed and
// fails it, then delegates.
type stallingEvents struct {
	*repository.MemoryEventLog
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingEvents) InsertBatch(ctx context.Context, events []model.EventLog) (int, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
		return 0, errDiskFull
	}
	return s.MemoryEventLog.InsertBatch(ctx, events)
}

func event(session string, seq int, name model.EventName) model.EventLog {
	return model.EventLog{
		EventTime:     time.Now(),
		EventName:     name,
		SessionID:     session,
		GameIndex:     1,
		Stage:         "1",
		PatternType:   "single",
		SequenceOrder: seq,
		DelayMS:       600,
	}
}

func batch(session string, n int) []model.EventLog {
	out := make([]model.EventLog, n)
	for i := range out {
		out[i] = event(session, i+1, model.EventSpawn)
	}
	return out
}

func TestService_IngestBatch(t *testing.T) {
	Convey("Given a service with an in-memory event log", t, func() {
		log := repository.NewMemoryEventLog()
		svc := newService(service.WithEventStore(log), service.WithMaxBatchSize(50))
		ctx := context.Background()

		Convey("When an empty batch is sent", func() {
			res, err := svc.IngestBatch(ctx, nil)

			Convey("Then it is a successful no-op", func() {
				So(err, ShouldBeNil)
				So(res.Persisted, ShouldEqual, 0)
			})
		})

		Convey("When a valid batch is sent", func() {
			res, err := svc.IngestBatch(ctx, batch("s1", 5))

			Convey("Then every event is stored with defaults applied", func() {
				So(err, ShouldBeNil)
				So(res.Persisted, ShouldEqual, 5)
				stored := log.BySession("s1")
				So(stored, ShouldHaveLength, 5)
				So(stored[0].UserID, ShouldEqual, model.DefaultUserID)
			})
		})

		Convey("When one record is invalid", func() {
			b := batch("s2", 4)
			b[2].EventName = "dodge"
			_, err := svc.IngestBatch(ctx, b)

			Convey("Then nothing from the batch is stored", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "event 2")
				So(log.BySession("s2"), ShouldBeEmpty)
			})
		})

		Convey("When the batch is too large", func() {
			_, err := svc.IngestBatch(ctx, batch("s3", 51))

			Convey("Then it is rejected as invalid", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				So(log.BySession("s3"), ShouldBeEmpty)
			})
		})

		Convey("When the client re-sends a batch", func() {
			_, err := svc.IngestBatch(ctx, batch("s4", 3))
			So(err, ShouldBeNil)
			res, err := svc.IngestBatch(ctx, append(batch("s4", 3), event("s4", 4, model.EventFail)))

			Convey("Then only the new event is stored", func() {
				So(err, ShouldBeNil)
				So(res.Persisted, ShouldEqual, 1)
				So(res.Duplicates, ShouldEqual, 3)
				So(log.BySession("s4"), ShouldHaveLength, 4)
			})
		})

		Convey("When a single event is ingested", func() {
			res, err := svc.Ingest(ctx, event("s5", 1, "success"))

			Convey("Then it is stored with its canonical name", func() {
				So(err, ShouldBeNil)
				So(res.Persisted, ShouldEqual, 1)
				So(log.BySession("s5")[0].EventName, ShouldEqual, model.EventSuccess)
			})
		})
	})

	Convey("Given an event store that fails once", t, func() {
		flaky := &flakyEvents{MemoryEventLog: repository.NewMemoryEventLog(), failures: 1}
		svc := newService(service.WithEventStore(flaky))
		ctx := context.Background()

		Convey("When a batch fails and is re-sent", func() {
			_, err := svc.IngestBatch(ctx, batch("s6", 3))
			windowAfterFailure := svc.DedupeWindow()
			res, retryErr := svc.IngestBatch(ctx, batch("s6", 3))

			Convey("Then the retry is not mistaken for a duplicate", func() {
				So(errors.Is(err, errDiskFull), ShouldBeTrue)
				So(windowAfterFailure, ShouldEqual, 0)
				So(retryErr, ShouldBeNil)
				So(res.Persisted, ShouldEqual, 3)
				So(res.Duplicates, ShouldEqual, 0)
			})
		})
	})

	Convey("Given an event store whose first write stalls and then fails", t, func() {
		stalling := &stallingEvents{
			MemoryEventLog: repository.NewMemoryEventLog(),
			entered:        make(chan struct{}),
			release:        make(chan struct{}),
		}
		svc := newService(service.WithEventStore(stalling))
		ctx := context.Background()

		Convey("When the client re-sends the batch while the first write is running", func() {
			firstErr := make(chan error, 1)
			go func() {
				_, err := svc.IngestBatch(ctx, batch("s8", 3))
				firstErr <- err
			}()
			<-stalling.entered

			type outcome struct {
				res types.IngestResult
				err error
			}
			retry := make(chan outcome, 1)
			go func() {
				res, err := svc.IngestBatch(ctx, batch("s8", 3))
				retry <- outcome{res, err}
			}()

			var (
				got           outcome
				answeredEarly bool
			)
			select {
			case got = <-retry:
				answeredEarly = true
			case <-time.After(50 * time.Millisecond):
			}
			close(stalling.release)
			errFirst := <-firstErr
			if !answeredEarly {
				got = <-retry
			}

			Convey("Then the re-send waits and stores the events itself", func() {
				So(answeredEarly, ShouldBeFalse)
				So(errors.Is(errFirst, errDiskFull), ShouldBeTrue)
				So(got.err, ShouldBeNil)
				So(got.res.Persisted, ShouldEqual, 3)
				So(got.res.Duplicates, ShouldEqual, 0)
				So(stalling.BySession("s8"), ShouldHaveLength, 3)
			})
		})
	})

	Convey("Given dedupe disabled", t, func() {
		log := repository.NewMemoryEventLog()
		svc := newService(service.WithEventStore(log), service.WithDedupeSize(0))
		ctx := context.Background()

		Convey("When a batch is sent twice", func() {
			_, _ = svc.IngestBatch(ctx, batch("s7", 2))
			res, err := svc.IngestBatch(ctx, batch("s7", 2))

			Convey("Then both copies are stored", func() {
				So(err, ShouldBeNil)
				So(res.Duplicates, ShouldEqual, 0)
				So(log.BySession("s7"), ShouldHaveLength, 4)
				So(svc.DedupeWindow(), ShouldEqual, 0)
			})
		})
	})
}

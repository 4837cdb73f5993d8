package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/okian/parry/internal/adapters/http/api"
	"github.com/okian/parry/internal/adapters/repository"
	service "github.com/okian/parry/internal/app"
	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/internal/domain/password"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"
)

// brokenEvents fails every write with a storage error.
type brokenEvents struct {
	*repository.MemoryEventLog
}

func (brokenEvents) InsertBatch(context.Context, []model.EventLog) (int, error) {
	return 0, fmt.Errorf("%w: connection reset by peer 10.0.0.7:5432", repository.ErrStorage)
}

// brokenRankings fails writes with a storage error once failing is set.
type brokenRankings struct {
	*repository.TreapStore
	failing *atomic.Bool
}

func (b brokenRankings) Upsert(ctx context.Context, nickname string, fn repository.UpdateFunc) (*model.RankingEntry, error) {
	if b.failing.Load() {
		return nil, fmt.Errorf("%w: deadlock detected on rankings_pkey at 10.0.0.9", repository.ErrStorage)
	}
	return b.TreapStore.Upsert(ctx, nickname, fn)
}

// downStore fails Ping.
type downStore struct {
	*repository.MemoryEventLog
}

func (downStore) Ping(context.Context) error { return errors.New("dial tcp: refused") }

func newHandler(svcOpts []service.Option, apiOpts ...api.Option) (http.Handler, *service.Service) {
	base := []service.Option{service.WithHasher(password.NewBcrypt(bcrypt.MinCost))}
	svc := service.New(append(base, svcOpts...)...)
	return api.NewServer(svc, apiOpts...).Routes(context.Background()), svc
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

// num reads a JSON number field as an int.
func num(w *httptest.ResponseRecorder, key string) int {
	f, _ := decode(w)[key].(float64)
	return int(f)
}

func eventJSON(session string, seq int, name string) string {
	return fmt.Sprintf(`{"event_time":"2026-05-01T12:00:00.250Z","event_name":%q,"session_id":%q,`+
		`"game_index":1,"stage":"2","pattern_type":"double","direction":"left","sequence_order":%d,`+
		`"delay_ms":700,"reaction_time_ms":212,"score":3,"star_speed":1.5,"extra_meta":{"combo":2}}`,
		name, session, seq)
}

func submitJSON(nick, pw string, score int) string {
	return fmt.Sprintf(`{"session_id":"s-%s","nickname":%q,"password":%q,"score":%d}`, nick, nick, pw, score)
}

func TestRootAndHealth(t *testing.T) {
	Convey("Given the API router", t, func() {
		h, _ := newHandler(nil)

		Convey("When GET /", func() {
			w := do(h, http.MethodGet, "/", "")

			Convey("Then the liveness message is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["message"], ShouldEqual, "Server is running!")
				So(w.Header().Get("X-Request-ID"), ShouldNotBeEmpty)
			})
		})

		Convey("When GET /healthz with memory stores", func() {
			w := do(h, http.MethodGet, "/healthz", "")

			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})

		Convey("When a store cannot be reached", func() {
			h, _ := newHandler([]service.Option{
				service.WithEventStore(downStore{repository.NewMemoryEventLog()}),
			})
			w := do(h, http.MethodGet, "/healthz", "")

			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldNotContainSubstring, "refused")
		})

		Convey("When GET /metrics and /stats", func() {
			m := do(h, http.MethodGet, "/metrics", "")
			s := do(h, http.MethodGet, "/stats", "")

			So(m.Code, ShouldEqual, http.StatusOK)
			So(m.Body.String(), ShouldContainSubstring, "parry_")
			So(s.Code, ShouldEqual, http.StatusOK)
			So(decode(s)["store"], ShouldEqual, "memory")
		})

		Convey("When the route is unknown", func() {
			w := do(h, http.MethodGet, "/nope", "")

			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decode(w)["code"], ShouldEqual, "not_found")
		})

		Convey("When a client supplies a request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("X-Request-ID", "trace-me")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			So(w.Header().Get("X-Request-ID"), ShouldEqual, "trace-me")
		})
	})
}

func TestLogs(t *testing.T) {
	Convey("Given the API router", t, func() {
		h, svc := newHandler(nil)
		events := func() any { return svc.GetStats()["events"] }

		Convey("When a single event is posted under /api", func() {
			w := do(h, http.MethodPost, "/api/logs", eventJSON("s1", 0, "pattern_spawn"))

			Convey("Then it is stored", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(num(w, "count"), ShouldEqual, 1)
				So(events(), ShouldEqual, 1)
			})
		})

		Convey("When a batch is posted at the root path", func() {
			body := "[" + eventJSON("s2", 0, "spawn") + "," + eventJSON("s2", 0, "success") + "," +
				eventJSON("s2", 1, "pattern_fail") + "]"
			w := do(h, http.MethodPost, "/logs/batch", body)

			Convey("Then all events are stored", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(num(w, "count"), ShouldEqual, 3)
				So(events(), ShouldEqual, 3)
			})

			Convey("And re-sending it stores nothing new", func() {
				again := do(h, http.MethodPost, "/logs/batch", body)

				So(again.Code, ShouldEqual, http.StatusOK)
				So(num(again, "count"), ShouldEqual, 0)
				So(num(again, "duplicates"), ShouldEqual, 3)
				So(events(), ShouldEqual, 3)
			})
		})

		Convey("When one event in a batch is invalid", func() {
			bad := strings.Replace(eventJSON("s3", 1, "pattern_spawn"), `"game_index":1,`, "", 1)
			body := "[" + eventJSON("s3", 0, "pattern_spawn") + "," + bad + "]"
			w := do(h, http.MethodPost, "/api/logs/batch", body)

			Convey("Then the whole batch is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["message"], ShouldContainSubstring, "event 1")
				So(decode(w)["message"], ShouldContainSubstring, "game_index")
				So(events(), ShouldEqual, 0)
			})
		})

		Convey("When the event name is unknown", func() {
			w := do(h, http.MethodPost, "/api/logs", eventJSON("s4", 0, "pattern_dance"))

			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a zone-less timestamp is sent", func() {
			body := strings.Replace(eventJSON("s5", 0, "fail"), "2026-05-01T12:00:00.250Z", "2026-05-01T12:00:00", 1)
			w := do(h, http.MethodPost, "/api/logs", body)

			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, "/api/logs/batch", "{not json")

			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, "bad_request")
		})

		Convey("When the body is larger than allowed", func() {
			h, _ := newHandler(nil, api.WithMaxBodyBytes(64))
			w := do(h, http.MethodPost, "/api/logs", eventJSON("s6", 0, "spawn"))

			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the store fails", func() {
			h, _ := newHandler([]service.Option{
				service.WithEventStore(brokenEvents{repository.NewMemoryEventLog()}),
			})
			w := do(h, http.MethodPost, "/api/logs", eventJSON("s7", 0, "spawn"))

			Convey("Then a generic 500 is returned without internals", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(decode(w)["code"], ShouldEqual, "internal_error")
				So(w.Body.String(), ShouldNotContainSubstring, "10.0.0.7")
			})
		})
	})
}

func TestRanking(t *testing.T) {
	Convey("Given the API router", t, func() {
		h, _ := newHandler(nil)

		Convey("When the reference sequence is played", func() {
			w1 := do(h, http.MethodPost, "/api/ranking", submitJSON("ace", "pw1", 100))
			w2 := do(h, http.MethodPost, "/api/ranking", submitJSON("ace", "pw1", 50))
			w3 := do(h, http.MethodPost, "/api/ranking", submitJSON("ace", "wrong", 999))
			w4 := do(h, http.MethodPost, "/api/ranking", submitJSON("ace", "pw1", 150))

			Convey("Then statuses and bodies follow each outcome", func() {
				So(w1.Code, ShouldEqual, http.StatusCreated)
				So(decode(w1)["status"], ShouldEqual, "registered")
				So(num(w1, "best_score"), ShouldEqual, 100)

				So(w2.Code, ShouldEqual, http.StatusOK)
				So(decode(w2)["status"], ShouldEqual, "unchanged")
				So(num(w2, "best_score"), ShouldEqual, 100)

				So(w3.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode(w3)["status"], ShouldEqual, "unauthorized")
				So(decode(w3), ShouldNotContainKey, "best_score")

				So(w4.Code, ShouldEqual, http.StatusOK)
				So(decode(w4)["status"], ShouldEqual, "updated")
				So(num(w4, "best_score"), ShouldEqual, 150)
			})

			Convey("And the nickname lookup shows rank 1", func() {
				w := do(h, http.MethodGet, "/api/ranking/ace", "")

				So(w.Code, ShouldEqual, http.StatusOK)
				So(num(w, "rank"), ShouldEqual, 1)
				So(num(w, "best_score"), ShouldEqual, 150)
			})
		})

		Convey("When several players are listed", func() {
			for i, p := range []struct {
				nick  string
				score int
			}{{"low", 5}, {"top", 90}, {"mid", 40}, {"tie", 40}} {
				w := do(h, http.MethodPost, "/ranking", submitJSON(p.nick, fmt.Sprint("secret-", i), p.score))
				So(w.Code, ShouldEqual, http.StatusCreated)
			}
			w := do(h, http.MethodGet, "/api/ranking?limit=3", "")

			var rows []map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &rows), ShouldBeNil)

			Convey("Then they come best first with ties in registration order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(rows, ShouldHaveLength, 3)
				So(rows[0]["nickname"], ShouldEqual, "top")
				So(rows[1]["nickname"], ShouldEqual, "mid")
				So(rows[2]["nickname"], ShouldEqual, "tie")
				So(rows[0], ShouldNotContainKey, "rank")
			})

			Convey("And no password material leaks", func() {
				all := do(h, http.MethodGet, "/api/ranking", "")
				So(all.Body.String(), ShouldNotContainSubstring, "password")
				So(all.Body.String(), ShouldNotContainSubstring, "secret-")
				So(all.Body.String(), ShouldNotContainSubstring, "$2")
			})
		})

		Convey("When the limit is bad", func() {
			So(do(h, http.MethodGet, "/api/ranking?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/api/ranking?limit=ten", "").Code, ShouldEqual, http.StatusBadRequest)

			over := do(h, http.MethodGet, "/api/ranking?limit=101", "")
			So(over.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(over)["code"], ShouldEqual, "limit_exceeded")
		})

		Convey("When the board is empty", func() {
			w := do(h, http.MethodGet, "/api/ranking", "")

			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})

		Convey("When an unknown nickname is looked up", func() {
			w := do(h, http.MethodGet, "/api/ranking/ghost", "")

			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decode(w)["code"], ShouldEqual, "not_found")
		})

		Convey("When a submission is invalid", func() {
			noScore := do(h, http.MethodPost, "/api/ranking", `{"nickname":"a","password":"b"}`)
			negative := do(h, http.MethodPost, "/api/ranking", submitJSON("neg", "pw", -5))
			noPassword := do(h, http.MethodPost, "/api/ranking", submitJSON("nopw", "", 5))

			So(noScore.Code, ShouldEqual, http.StatusBadRequest)
			So(negative.Code, ShouldEqual, http.StatusBadRequest)
			So(noPassword.Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/api/ranking", "").Body.String(), ShouldNotContainSubstring, "neg")
		})
	})
}

func TestRankingStoreFailure(t *testing.T) {
	Convey("Given a leaderboard whose store starts failing", t, func() {
		failing := &atomic.Bool{}
		h, _ := newHandler([]service.Option{
			service.WithRankingStore(brokenRankings{repository.NewTreapStore(), failing}),
		})
		So(do(h, http.MethodPost, "/api/ranking", submitJSON("ace", "pw1", 100)).Code, ShouldEqual, http.StatusCreated)
		before := do(h, http.MethodGet, "/api/ranking", "").Body.String()

		Convey("When a higher score is submitted", func() {
			failing.Store(true)
			w := do(h, http.MethodPost, "/api/ranking", submitJSON("ace", "pw1", 500))
			after := do(h, http.MethodGet, "/api/ranking", "")

			Convey("Then a generic 500 is returned and the board is untouched", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(decode(w)["code"], ShouldEqual, "internal_error")
				So(w.Body.String(), ShouldNotContainSubstring, "10.0.0.9")
				So(w.Body.String(), ShouldNotContainSubstring, "deadlock")
				So(after.Code, ShouldEqual, http.StatusOK)
				So(after.Body.String(), ShouldEqual, before)
			})
		})

		Convey("When a new nickname registers", func() {
			failing.Store(true)
			w := do(h, http.MethodPost, "/api/ranking", submitJSON("bee", "pw2", 50))
			rank := do(h, http.MethodGet, "/api/ranking/bee", "")

			Convey("Then nothing is stored for it", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(rank.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestRankingRateLimit(t *testing.T) {
	Convey("Given a router limiting submissions to a burst of two", t, func() {
		h, _ := newHandler(nil, api.WithRankingRateLimit(0.001, 2))

		post := func(addr string, i int) int {
			req := httptest.NewRequest(http.MethodPost, "/api/ranking",
				strings.NewReader(submitJSON(fmt.Sprint("rl", i), "pw", i)))
			req.RemoteAddr = addr
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w.Code
		}

		Convey("Then the third request from one address is refused", func() {
			So(post("192.0.2.1:1000", 1), ShouldEqual, http.StatusCreated)
			So(post("192.0.2.1:1001", 2), ShouldEqual, http.StatusCreated)
			So(post("192.0.2.1:1002", 3), ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("And another address is unaffected", func() {
			So(post("192.0.2.9:1000", 4), ShouldEqual, http.StatusCreated)
		})

		Convey("And reads are never limited", func() {
			for i := 0; i < 5; i++ {
				req := httptest.NewRequest(http.MethodGet, "/api/ranking", http.NoBody)
				req.RemoteAddr = "192.0.2.1:1000"
				w := httptest.NewRecorder()
				h.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
			}
		})
	})

	forwarded := func(h http.Handler, forwardedFor string, i int) int {
		req := httptest.NewRequest(http.MethodPost, "/api/ranking",
			strings.NewReader(submitJSON(fmt.Sprint("xff", i), "pw", i)))
		req.RemoteAddr = "192.0.2.50:4000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	Convey("Given a limited router that does not trust proxy headers", t, func() {
		h, _ := newHandler(nil, api.WithRankingRateLimit(0.001, 2))

		Convey("Then rotating X-Forwarded-For does not buy a new bucket", func() {
			So(forwarded(h, "198.51.100.1", 1), ShouldEqual, http.StatusCreated)
			So(forwarded(h, "198.51.100.2", 2), ShouldEqual, http.StatusCreated)
			So(forwarded(h, "198.51.100.3", 3), ShouldEqual, http.StatusTooManyRequests)
		})
	})

	Convey("Given a limited router behind a trusted proxy", t, func() {
		h, _ := newHandler(nil, api.WithRankingRateLimit(0.001, 2), api.WithTrustedProxy(true))

		Convey("Then each forwarded client gets its own bucket", func() {
			So(forwarded(h, "198.51.100.1", 1), ShouldEqual, http.StatusCreated)
			So(forwarded(h, "198.51.100.1", 2), ShouldEqual, http.StatusCreated)
			So(forwarded(h, "198.51.100.1", 3), ShouldEqual, http.StatusTooManyRequests)
			So(forwarded(h, "198.51.100.2", 4), ShouldEqual, http.StatusCreated)
		})
	})
}

func TestCORS(t *testing.T) {
	Convey("Given a router allowing one origin", t, func() {
		h, _ := newHandler(nil, api.WithAllowedOrigins([]string{"https://parry.example"}))

		preflight := func(origin string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodOptions, "/api/logs/batch", http.NoBody)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w
		}

		Convey("Then that origin passes preflight", func() {
			w := preflight("https://parry.example")
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://parry.example")
		})

		Convey("And another origin does not", func() {
			w := preflight("https://evil.example")
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("boom")

		Convey("Then kind and cause are both reachable", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("And NewKind and Wrap format consistently", func() {
			So(api.NewKind("api.op", api.ErrRateLimited).Error(), ShouldEqual, "api.op: too many requests")
			So(api.Wrap("api.op", cause).Error(), ShouldEqual, "api.op: boom")
			So(api.Wrap("api.op", nil), ShouldBeNil)
		})
	})
}

package loadgen

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/parry/internal/adapters/http/api"
	service "github.com/okian/parry/internal/app"
	"github.com/okian/parry/internal/domain/password"
	"github.com/okian/parry/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	if err := logger.Init(logger.WithWriter(&bytes.Buffer{})); err != nil {
		panic(err)
	}
}

func newServer(apiOpts ...api.Option) *httptest.Server {
	svc := service.New(service.WithHasher(password.NewBcrypt(bcrypt.MinCost)))
	return httptest.NewServer(api.NewServer(svc, apiOpts...).Routes(context.Background()))
}

func smallConfig(url string, out *bytes.Buffer) *Config {
	return &Config{
		BaseURL:         url,
		Sessions:        3,
		GamesPerSession: 2,
		PatternsPerGame: 5,
		BatchSize:       7,
		Players:         6,
		Submissions:     4,
		TopN:            10,
		Workers:         4,
		Timeout:         5 * time.Second,
		Seed:            42,
		Verbose:         true,
		Out:             out,
	}
}

func TestRun(t *testing.T) {
	Convey("Given a live server", t, func() {
		srv := newServer()
		defer srv.Close()
		var out bytes.Buffer
		cfg := smallConfig(srv.URL, &out)
		cfg.OutputFile = filepath.Join(t.TempDir(), "events", "run.json")

		Convey("When a load run completes", func() {
			stats, err := Run(context.Background(), cfg)

			Convey("Then every event is stored once and the re-send is dropped", func() {
				So(err, ShouldBeNil)
				So(stats.EventsGenerated, ShouldEqual, 3*2*5*2)
				So(stats.EventsPersisted, ShouldEqual, stats.EventsGenerated)
				So(stats.EventsDuplicate, ShouldEqual, 7)
				So(stats.BatchesFailed, ShouldEqual, 0)
			})

			Convey("And every player registered once and was refused once", func() {
				So(stats.Registered, ShouldEqual, 6)
				So(stats.Registered+stats.Updated+stats.Unchanged, ShouldEqual, 6*4)
				So(stats.Unauthorized, ShouldEqual, 6)
				So(stats.RankLookups, ShouldEqual, 6)
				So(stats.LeaderboardSize, ShouldEqual, 6)
				So(out.String(), ShouldContainSubstring, "verification passed")
			})
		})
	})

	Convey("Given a server that rate limits submissions", t, func() {
		srv := newServer(api.WithRankingRateLimit(40, 2))
		defer srv.Close()
		var out bytes.Buffer
		cfg := smallConfig(srv.URL, &out)
		cfg.Players = 3
		cfg.Submissions = 3

		Convey("Then the run backs off and still verifies", func() {
			stats, err := Run(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(stats.Registered, ShouldEqual, 3)
		})
	})

	Convey("Given nothing listening", t, func() {
		srv := newServer()
		url := srv.URL
		srv.Close()

		Convey("Then the health check fails", func() {
			_, err := Run(context.Background(), smallConfig(url, &bytes.Buffer{}))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		cfg := &Config{Sessions: 2, GamesPerSession: 3, PatternsPerGame: 4, Players: 3, Submissions: 5}
		g := newGenerator(7)
		sessions := g.sessions(cfg)

		Convey("Then each pattern yields a spawn and an outcome", func() {
			So(sessions, ShouldHaveLength, 2)
			So(sessions[0], ShouldHaveLength, 3*4*2)
			for i := 0; i < len(sessions[0]); i += 2 {
				So(sessions[0][i].EventName, ShouldEqual, "pattern_spawn")
				So(sessions[0][i+1].EventName, ShouldBeIn, "pattern_success", "pattern_fail")
				So(sessions[0][i+1].SequenceOrder, ShouldEqual, sessions[0][i].SequenceOrder)
			}
		})

		Convey("Then players carry non-negative scores", func() {
			for _, p := range g.players(cfg) {
				So(p.Scores, ShouldHaveLength, 5)
				for _, s := range p.Scores {
					So(s, ShouldBeGreaterThanOrEqualTo, 0)
				}
				So(p.best(), ShouldBeGreaterThanOrEqualTo, p.Scores[0])
			}
		})

		Convey("Then batching keeps every event", func() {
			b := batches(sessions[0], 5)
			So(b, ShouldHaveLength, 5)
			So(b[4], ShouldHaveLength, 4)
		})
	})
}

func TestVerifyLeaderboard(t *testing.T) {
	Convey("Given our players", t, func() {
		players := []player{{Nickname: "a", Scores: []int64{5, 9}}, {Nickname: "b", Scores: []int64{3}}}
		board := []standing{{Nickname: "x", BestScore: 20}, {Nickname: "a", BestScore: 9}, {Nickname: "b", BestScore: 3}}

		Convey("Then a correct board passes even with foreign entries", func() {
			So(verifyLeaderboard(board, []byte(`[]`), players), ShouldBeNil)
		})

		Convey("Then a misordered board fails", func() {
			bad := []standing{board[2], board[1]}
			So(errors.Is(verifyLeaderboard(bad, nil, players), ErrVerification), ShouldBeTrue)
		})

		Convey("Then a wrong best fails", func() {
			bad := []standing{{Nickname: "a", BestScore: 5}}
			So(errors.Is(verifyLeaderboard(bad, nil, players), ErrVerification), ShouldBeTrue)
		})

		Convey("Then a leaked hash fails", func() {
			err := verifyLeaderboard(nil, []byte(`[{"h":"$2a$10$abc"}]`), players)
			So(errors.Is(err, ErrVerification), ShouldBeTrue)
		})
	})
}

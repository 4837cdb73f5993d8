package loadgen

import (
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	stages       = []string{"1", "2", "3", "boss"}
	patternTypes = []string{"single", "double", "sweep", "feint"}
	directions   = []string{"left", "right", "up", "down"}
	failReasons  = []string{"timeout", "wrong_direction", "early"}
)

// event is the wire shape posted to /logs/batch.
type event struct {
	EventTime      string          `json:"event_time"`
	EventName      string          `json:"event_name"`
	SessionID      string          `json:"session_id"`
	GameIndex      int             `json:"game_index"`
	UserID         string          `json:"user_id"`
	Stage          string          `json:"stage"`
	PatternType    string          `json:"pattern_type"`
	Direction      *string         `json:"direction,omitempty"`
	SequenceOrder  int             `json:"sequence_order"`
	DelayMS        int             `json:"delay_ms"`
	ReactionTimeMS *int            `json:"reaction_time_ms,omitempty"`
	FailReason     *string         `json:"fail_reason,omitempty"`
	Score          *int            `json:"score,omitempty"`
	StarSpeed      *float64        `json:"star_speed,omitempty"`
	ExtraMeta      json.RawMessage `json:"extra_meta,omitempty"`
}

// player is one nickname with the scores it will submit.
type player struct {
	Nickname string
	Password string
	Session  string
	Scores   []int64
}

// best returns the highest score in p.Scores.
func (p player) best() int64 {
	var b int64
	for _, s := range p.Scores {
		b = max(b, s)
	}
	return b
}

type generator struct {
	rng *rand.Rand
	now time.Time
}

func newGenerator(seed uint64) *generator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now().UTC(),
	}
}

func (g *generator) pick(xs []string) string { return xs[g.rng.IntN(len(xs))] }

// sessions plays out every session: each pattern yields a spawn followed by
// a success or a fail, with score accumulating across the game.
func (g *generator) sessions(cfg *Config) [][]event {
	out := make([][]event, cfg.Sessions)
	for s := range out {
		session := uuid.NewString()
		user := "user-" + session[:8]
		at := g.now.Add(-time.Duration(cfg.Sessions-s) * time.Minute)
		var events []event

		for game := 0; game < cfg.GamesPerSession; game++ {
			score := 0
			stage := g.pick(stages)
			speed := 1 + g.rng.Float64()*2
			for seq := 0; seq < cfg.PatternsPerGame; seq++ {
				pattern := g.pick(patternTypes)
				dir := g.pick(directions)
				delay := 400 + g.rng.IntN(800)
				at = at.Add(time.Duration(delay) * time.Millisecond)

				base := event{
					EventTime:     at.Format(time.RFC3339Nano),
					SessionID:     session,
					GameIndex:     game,
					UserID:        user,
					Stage:         stage,
					PatternType:   pattern,
					Direction:     &dir,
					SequenceOrder: seq,
					DelayMS:       delay,
					StarSpeed:     &speed,
				}

				spawn := base
				spawn.EventName = "pattern_spawn"
				events = append(events, spawn)

				outcome := base
				reaction := 120 + g.rng.IntN(500)
				at = at.Add(time.Duration(reaction) * time.Millisecond)
				outcome.EventTime = at.Format(time.RFC3339Nano)
				outcome.ReactionTimeMS = &reaction
				if g.rng.IntN(4) == 0 {
					reason := g.pick(failReasons)
					outcome.EventName = "pattern_fail"
					outcome.FailReason = &reason
				} else {
					score++
					outcome.EventName = "pattern_success"
				}
				sc := score
				outcome.Score = &sc
				outcome.ExtraMeta = json.RawMessage(`{"combo":` + strconv.Itoa(sc) + `}`)
				events = append(events, outcome)
			}
		}
		out[s] = events
	}
	return out
}

// players builds cfg.Players nicknames, each with random non-negative scores.
func (g *generator) players(cfg *Config) []player {
	out := make([]player, cfg.Players)
	for i := range out {
		id := uuid.NewString()
		p := player{
			Nickname: "p" + strconv.Itoa(i) + "-" + id[:6],
			Password: uuid.NewString(),
			Session:  id,
			Scores:   make([]int64, cfg.Submissions),
		}
		for j := range p.Scores {
			p.Scores[j] = int64(g.rng.IntN(5000))
		}
		out[i] = p
	}
	return out
}

// batches splits events into chunks of at most size.
func batches(events []event, size int) [][]event {
	var out [][]event
	for len(events) > 0 {
		n := min(size, len(events))
		out = append(out, events[:n])
		events = events[n:]
	}
	return out
}

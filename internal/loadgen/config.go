// Package loadgen drives a running Parry server with simulated games and
// ranking submissions, then checks the leaderboard it produces.
package loadgen

import (
	"errors"
	"io"
	"os"
	"time"
)

// ErrVerification is returned when the server's answers contradict what was sent.
var ErrVerification = errors.New("verification failed")

// Config holds configuration for a load run.
type Config struct {
	BaseURL         string        // server root, game routes are under /api
	Sessions        int           // simulated play sessions
	GamesPerSession int           // games per session
	PatternsPerGame int           // patterns spawned per game
	BatchSize       int           // events per /logs/batch request
	Players         int           // distinct leaderboard nicknames
	Submissions     int           // score submissions per player
	TopN            int           // leaderboard size to fetch and verify
	Workers         int           // concurrent requests
	Timeout         time.Duration // HTTP request timeout
	Seed            uint64        // 0 picks a random seed
	OutputFile      string        // optional JSON dump of generated events
	Verbose         bool
	Out             io.Writer // report destination, stdout when nil
}

func (c *Config) normalize() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Submissions < 1 {
		c.Submissions = 1
	}
	if c.TopN < 1 {
		c.TopN = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated int
	EventsPersisted int
	EventsDuplicate int
	BatchesSent     int
	BatchesFailed   int
	Registered      int
	Updated         int
	Unchanged       int
	Unauthorized    int
	SubmitsFailed   int
	RankLookups     int
	LeaderboardSize int
	StartTime       time.Time
	Duration        time.Duration
}

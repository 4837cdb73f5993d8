package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/okian/parry/internal/loadgen"
	"github.com/okian/parry/pkg/logger"
	"github.com/spf13/pflag"
)

// Default configuration constants.
const (
	defaultSessions    = 50
	defaultGames       = 3
	defaultPatterns    = 20
	defaultBatchSize   = 100
	defaultPlayers     = 100
	defaultSubmissions = 5
	defaultTopN        = 20
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	var (
		baseURL     = pflag.StringP("url", "u", "http://localhost:8000", "base URL of the Parry server")
		sessions    = pflag.Int("sessions", defaultSessions, "play sessions to simulate")
		games       = pflag.Int("games", defaultGames, "games per session")
		patterns    = pflag.Int("patterns", defaultPatterns, "patterns per game")
		batchSize   = pflag.Int("batch", defaultBatchSize, "events per batch request")
		players     = pflag.Int("players", defaultPlayers, "leaderboard nicknames to register")
		submissions = pflag.Int("submissions", defaultSubmissions, "score submissions per player")
		topN        = pflag.Int("top", defaultTopN, "leaderboard entries to fetch and verify")
		workers     = pflag.IntP("workers", "w", runtime.NumCPU()*defaultWorkers, "concurrent requests")
		timeout     = pflag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		seed        = pflag.Uint64("seed", 0, "random seed, 0 for a random one")
		output      = pflag.StringP("output", "o", "", "write generated events to this JSON file")
		verbose     = pflag.BoolP("verbose", "v", false, "print the fetched leaderboard and debug logs")
	)
	pflag.Parse()

	if err := logger.Init(logger.WithFormat("console")); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	_, err := loadgen.Run(ctx, &loadgen.Config{
		BaseURL:         *baseURL,
		Sessions:        *sessions,
		GamesPerSession: *games,
		PatternsPerGame: *patterns,
		BatchSize:       *batchSize,
		Players:         *players,
		Submissions:     *submissions,
		TopN:            *topN,
		Workers:         *workers,
		Timeout:         *timeout,
		Seed:            *seed,
		OutputFile:      *output,
		Verbose:         *verbose,
	})
	if err != nil {
		_, _ = color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "load run failed: "+err.Error())
		stop()
		cancel()
		os.Exit(1)
	}
}

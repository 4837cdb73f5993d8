package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/parry/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	directoryPermission = 0o750
	rateLimitRetries    = 20
	rateLimitBackoff    = 250 * time.Millisecond
)

// Run executes a full load run against cfg.BaseURL and returns its statistics.
// It fails with ErrVerification when the leaderboard disagrees with the
// submitted scores.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	cfg.normalize()
	log := logger.Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	c := newClient(cfg.BaseURL, cfg.Timeout)
	gen := newGenerator(cfg.Seed)

	log.Info(ctx, "starting parry load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("players", cfg.Players),
		logger.Int("workers", cfg.Workers),
	)

	if err := checkHealth(ctx, c); err != nil {
		return stats, err
	}

	sessions := gen.sessions(cfg)
	if err := sendEvents(ctx, cfg, c, sessions, stats); err != nil {
		return stats, err
	}
	if cfg.OutputFile != "" {
		if err := saveEvents(cfg.OutputFile, sessions); err != nil {
			log.Warn(ctx, "failed to save events to file", logger.Error(err))
		}
	}

	players := gen.players(cfg)
	if err := submitScores(ctx, cfg, c, players, stats); err != nil {
		return stats, err
	}
	if err := probeWrongPasswords(ctx, cfg, c, players, stats); err != nil {
		return stats, err
	}

	board, raw, err := fetchLeaderboard(ctx, c, cfg.TopN)
	if err != nil {
		return stats, err
	}
	stats.LeaderboardSize = len(board)
	if err := verifyLeaderboard(board, raw, players); err != nil {
		return stats, err
	}
	if err := verifyRanks(ctx, cfg, c, players, stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	report(cfg.Out, stats, board, cfg.Verbose)
	log.Info(ctx, "load run completed", logger.String("duration", stats.Duration.String()))
	return stats, nil
}

func checkHealth(ctx context.Context, c *client) error {
	status, _, err := c.get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	return nil
}

// sendEvents posts every session in batches, then re-sends the first batch
// to confirm the server drops retries.
func sendEvents(ctx context.Context, cfg *Config, c *client, sessions [][]event, stats *Stats) error {
	var all [][]event
	for _, s := range sessions {
		stats.EventsGenerated += len(s)
		all = append(all, batches(s, cfg.BatchSize)...)
	}
	if len(all) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, b := range all {
		g.Go(func() error {
			status, body, err := c.post(gctx, "/api/logs/batch", b)
			mu.Lock()
			defer mu.Unlock()
			stats.BatchesSent++
			if err != nil || status != http.StatusOK {
				stats.BatchesFailed++
				return nil
			}
			var res ingestResponse
			if err := json.Unmarshal(body, &res); err == nil {
				stats.EventsPersisted += res.Count
				stats.EventsDuplicate += res.Duplicates
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	status, body, err := c.post(ctx, "/api/logs/batch", all[0])
	if err != nil {
		return fmt.Errorf("re-send batch: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("re-sent batch failed with status %d: %s", status, body)
	}
	var res ingestResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	stats.EventsDuplicate += res.Duplicates
	if res.Count != 0 && res.Duplicates == 0 {
		logger.Named("loadgen").Warn(ctx, "server stored a re-sent batch again; dedupe looks disabled",
			logger.Int("count", res.Count))
	}
	return nil
}

// postRanking submits once, backing off while the server rate limits.
func postRanking(ctx context.Context, c *client, req submitRequest) (int, submitResponse, error) {
	for attempt := 0; ; attempt++ {
		status, body, err := c.post(ctx, "/api/ranking", req)
		if err != nil {
			return status, submitResponse{}, err
		}
		if status == http.StatusTooManyRequests && attempt < rateLimitRetries {
			select {
			case <-ctx.Done():
				return status, submitResponse{}, ctx.Err()
			case <-time.After(rateLimitBackoff):
			}
			continue
		}
		var res submitResponse
		_ = json.Unmarshal(body, &res)
		return status, res, nil
	}
}

// submitScores plays each player's submissions in order. Players run
// concurrently; the reported best must always equal the running maximum.
func submitScores(ctx context.Context, cfg *Config, c *client, players []player, stats *Stats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, p := range players {
		g.Go(func() error {
			var best int64
			for i, score := range p.Scores {
				status, res, err := postRanking(gctx, c, submitRequest{
					SessionID: p.Session, Nickname: p.Nickname, Password: p.Password, Score: score,
				})
				if err != nil {
					mu.Lock()
					stats.SubmitsFailed++
					mu.Unlock()
					return err
				}

				want := "unchanged"
				wantStatus := http.StatusOK
				switch {
				case i == 0:
					want, wantStatus = "registered", http.StatusCreated
				case score > best:
					want = "updated"
				}
				best = max(best, score)

				mu.Lock()
				switch res.Status {
				case "registered":
					stats.Registered++
				case "updated":
					stats.Updated++
				case "unchanged":
					stats.Unchanged++
				default:
					stats.SubmitsFailed++
				}
				mu.Unlock()

				if status != wantStatus || res.Status != want || res.BestScore != best {
					return fmt.Errorf("%w: %s submission %d: got %d %s best=%d, want %d %s best=%d",
						ErrVerification, p.Nickname, i, status, res.Status, res.BestScore, wantStatus, want, best)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// probeWrongPasswords tries to overwrite every player with a wrong password
// and an unbeatable score. Each attempt must be refused.
func probeWrongPasswords(ctx context.Context, cfg *Config, c *client, players []player, stats *Stats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, p := range players {
		g.Go(func() error {
			status, _, err := postRanking(gctx, c, submitRequest{
				SessionID: p.Session, Nickname: p.Nickname, Password: p.Password + "-wrong", Score: 1 << 40,
			})
			if err != nil {
				return err
			}
			if status != http.StatusUnauthorized {
				return fmt.Errorf("%w: wrong password for %s answered %d", ErrVerification, p.Nickname, status)
			}
			mu.Lock()
			stats.Unauthorized++
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func fetchLeaderboard(ctx context.Context, c *client, n int) ([]standing, []byte, error) {
	status, body, err := c.get(ctx, fmt.Sprintf("/api/ranking?limit=%d", n))
	if err != nil {
		return nil, nil, err
	}
	if status != http.StatusOK {
		return nil, nil, fmt.Errorf("leaderboard: HTTP %d: %s", status, body)
	}
	var board []standing
	if err := json.Unmarshal(body, &board); err != nil {
		return nil, nil, fmt.Errorf("failed to parse leaderboard: %w", err)
	}
	return board, body, nil
}

// verifyRanks looks every player up and checks the stored best.
func verifyRanks(ctx context.Context, cfg *Config, c *client, players []player, stats *Stats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, p := range players {
		g.Go(func() error {
			status, body, err := c.get(gctx, "/api/ranking/"+url.PathEscape(p.Nickname))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("%w: rank of %s: HTTP %d", ErrVerification, p.Nickname, status)
			}
			var st standing
			if err := json.Unmarshal(body, &st); err != nil {
				return fmt.Errorf("failed to parse standing: %w", err)
			}
			if st.BestScore != p.best() || st.Rank < 1 {
				return fmt.Errorf("%w: %s has best=%d rank=%d, want best=%d",
					ErrVerification, p.Nickname, st.BestScore, st.Rank, p.best())
			}
			mu.Lock()
			stats.RankLookups++
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// saveEvents writes all generated events as one JSON array.
func saveEvents(filename string, sessions [][]event) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var all []event
	for _, s := range sessions {
		all = append(all, s...)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	return os.WriteFile(filename, data, 0o600)
}

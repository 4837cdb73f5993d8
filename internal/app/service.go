// Package service provides the Ranking Service: password-gated leaderboard
// submissions and telemetry batch ingest behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/parry/internal/adapters/repository"
	"github.com/okian/parry/internal/domain/dedupe"
	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/internal/domain/password"
	"github.com/okian/parry/internal/domain/types"
	"github.com/okian/parry/pkg/logger"
	"github.com/okian/parry/pkg/metrics"
)

// Service implements the API dependencies for the Parry backend.
type Service struct {
	mu sync.RWMutex

	// Core components
	rankings repository.RankingStore
	events   repository.EventStore
	hasher   password.Hasher
	deduper  dedupe.Deduper

	// Configuration
	backend         string
	dedupeSize      int
	maxBatchSize    int
	metricsInterval time.Duration
	now             func() time.Time

	// State
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// pending maps event keys whose batch write is still running to a
	// channel closed once that write has committed or rolled back.
	pendingMu sync.Mutex
	pending   map[string]chan struct{}

	logger logger.Logger
}

// New constructs a Service. Without store options it runs fully in memory.
func New(opts ...Option) *Service {
	s := &Service{
		backend:         "memory",
		dedupeSize:      100_000,
		maxBatchSize:    1000,
		metricsInterval: metrics.RefreshInterval(),
		now:             time.Now,
		hasher:          password.NewBcrypt(0),
		logger:          logger.Nop(),
		pending:         make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rankings == nil {
		s.rankings = repository.NewTreapStore()
	}
	if s.events == nil {
		s.events = repository.NewMemoryEventLog()
	}
	if s.dedupeSize > 0 {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	}
	return s
}

// Start launches the background gauge refresher.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.refreshLoop(ctx, s.stopCh)

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.String("store", s.backend),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("maxBatchSize", s.maxBatchSize),
	)
	return nil
}

// Stop gracefully shuts down the background work.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info(context.Background(), "ranking service stopped")
}

func (s *Service) refreshLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.metricsInterval)
	defer ticker.Stop()

	s.refreshGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.refreshGauges(ctx)
		}
	}
}

func (s *Service) refreshGauges(ctx context.Context) {
	if n, err := s.rankings.Count(ctx); err == nil {
		metrics.UpdateRankingEntries(n)
	}
	if n, err := s.events.Count(ctx); err == nil {
		metrics.UpdateEventLogRecords(n)
	}
	metrics.UpdateDedupeWindowSize(s.DedupeWindow())
}

// Submit registers a nickname or raises its best score.
//
//   - unknown nickname: stored with a bcrypt hash of the password, "registered"
//   - wrong password: ErrUnauthorized, nothing written
//   - higher score: best score, session and updated_at replaced, "updated"
//   - equal or lower score: nothing written, "unchanged"
func (s *Service) Submit(ctx context.Context, sub model.Submission) (types.SubmitResult, error) {
	if err := sub.Normalize(); err != nil {
		metrics.RecordErrorByComponent("service", "validation")
		return types.SubmitResult{}, err
	}

	var outcome model.Outcome
	stored, err := s.rankings.Upsert(ctx, sub.Nickname, func(cur *model.RankingEntry) (*model.RankingEntry, error) {
		now := s.now().UTC()
		if cur == nil {
			hash, err := s.hash(sub.Password)
			if err != nil {
				return nil, err
			}
			outcome = model.OutcomeRegistered
			return &model.RankingEntry{
				SessionID:    sub.SessionID,
				Nickname:     sub.Nickname,
				PasswordHash: hash,
				BestScore:    sub.Score,
				UpdatedAt:    now,
			}, nil
		}

		if err := s.verify(cur.PasswordHash, sub.Password); err != nil {
			return nil, err
		}
		if sub.Score <= cur.BestScore {
			outcome = model.OutcomeUnchanged
			return nil, nil
		}

		outcome = model.OutcomeUpdated
		next := *cur
		next.SessionID = sub.SessionID
		next.BestScore = sub.Score
		next.UpdatedAt = now
		return &next, nil
	})

	switch {
	case errors.Is(err, ErrUnauthorized):
		metrics.RecordSubmission(string(model.OutcomeUnauthorized))
		s.logger.Warn(ctx, "ranking submission rejected",
			logger.String("nickname", sub.Nickname),
			logger.String("sessionID", sub.SessionID),
		)
		return types.SubmitResult{Outcome: model.OutcomeUnauthorized, Nickname: sub.Nickname}, err
	case err != nil:
		metrics.RecordErrorByComponent("service", "submit")
		s.logger.Error(ctx, "ranking submission failed",
			logger.String("nickname", sub.Nickname),
			logger.Error(err),
		)
		return types.SubmitResult{}, err
	}

	metrics.RecordSubmission(string(outcome))
	s.logger.Debug(ctx, "ranking submission applied",
		logger.String("nickname", stored.Nickname),
		logger.String("outcome", string(outcome)),
		logger.Int64("bestScore", stored.BestScore),
	)
	return types.SubmitResult{Outcome: outcome, Nickname: stored.Nickname, BestScore: stored.BestScore}, nil
}

func (s *Service) hash(pw string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPasswordLatency("hash", float64(time.Since(start).Milliseconds()))
	}()
	return s.hasher.Hash(pw)
}

func (s *Service) verify(hash, pw string) error {
	start := time.Now()
	defer func() {
		metrics.RecordPasswordLatency("verify", float64(time.Since(start).Milliseconds()))
	}()

	err := s.hasher.Verify(hash, pw)
	if errors.Is(err, password.ErrMismatch) {
		return ErrUnauthorized
	}
	return err
}

// ListTop returns the n best entries, best first, ties in registration order.
func (s *Service) ListTop(ctx context.Context, n int) ([]types.Standing, error) {
	entries, err := s.rankings.TopN(ctx, n)
	if err != nil {
		return nil, err
	}

	out := make([]types.Standing, len(entries))
	for i := range entries {
		out[i] = types.StandingOf(&entries[i])
	}
	return out, nil
}

// Rank returns one nickname's standing with its 1-based position.
func (s *Service) Rank(ctx context.Context, nickname string) (types.Standing, error) {
	rank, entry, err := s.rankings.Rank(ctx, strings.TrimSpace(nickname))
	if err != nil {
		return types.Standing{}, err
	}

	st := types.StandingOf(&entry)
	st.Rank = rank
	return st, nil
}

// IngestBatch validates every event, drops client retries seen before, and
// stores the rest atomically. Events are normalized in place. Retry keys are
// reserved before the write and released again if it fails, so a failed
// batch can be re-sent. A re-send that overlaps a batch still being written
// waits for that write before deciding what is a duplicate.
func (s *Service) IngestBatch(ctx context.Context, events []model.EventLog) (types.IngestResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIngestLatency(float64(time.Since(start).Milliseconds()))
	}()

	if len(events) == 0 {
		return types.IngestResult{}, nil
	}
	if len(events) > s.maxBatchSize {
		metrics.RecordEventsRejected(len(events))
		return types.IngestResult{}, fmt.Errorf("%w: batch of %d events exceeds the limit of %d",
			model.ErrValidation, len(events), s.maxBatchSize)
	}
	if err := model.NormalizeBatch(events); err != nil {
		metrics.RecordEventsRejected(len(events))
		metrics.RecordErrorByComponent("service", "validation")
		return types.IngestResult{}, err
	}
	metrics.RecordBatchSize(len(events))

	fresh := events
	var reserved []string
	if s.deduper != nil {
		var (
			done chan struct{}
			err  error
		)
		fresh, reserved, done, err = s.reserve(ctx, events)
		if err != nil {
			return types.IngestResult{}, err
		}
		defer s.release(reserved, done)
	}
	duplicates := len(events) - len(fresh)

	n, err := s.events.InsertBatch(ctx, fresh)
	if err != nil {
		for _, key := range reserved {
			s.deduper.Unrecord(ctx, key)
		}
		metrics.RecordEventsRejected(len(events))
		metrics.RecordErrorByComponent("service", "ingest")
		s.logger.Error(ctx, "event batch rolled back",
			logger.Int("events", len(events)),
			logger.Error(err),
		)
		return types.IngestResult{}, err
	}

	metrics.RecordEventsIngested(n)
	metrics.RecordEventsDuplicate(duplicates)
	if duplicates > 0 {
		s.logger.Debug(ctx, "skipped re-sent events",
			logger.Int("duplicates", duplicates),
			logger.String("sessionID", events[0].SessionID),
		)
	}
	return types.IngestResult{Persisted: n, Duplicates: duplicates}, nil
}

// reserve claims the keys of events that are not stored yet and returns
// those events. If any key belongs to a write still in flight it waits for
// that write and looks again, so a key only counts as a duplicate once its
// owner has committed.
func (s *Service) reserve(ctx context.Context, events []model.EventLog) ([]model.EventLog, []string, chan struct{}, error) {
	keys := make([]string, len(events))
	for i := range events {
		keys[i] = events[i].DedupeKey()
	}

	for {
		s.pendingMu.Lock()
		var wait chan struct{}
		for _, key := range keys {
			if ch, ok := s.pending[key]; ok {
				wait = ch
				break
			}
		}
		if wait == nil {
			done := make(chan struct{})
			fresh := make([]model.EventLog, 0, len(events))
			reserved := make([]string, 0, len(events))
			for i, key := range keys {
				if s.deduper.SeenAndRecord(ctx, key) {
					continue
				}
				s.pending[key] = done
				reserved = append(reserved, key)
				fresh = append(fresh, events[i])
			}
			s.pendingMu.Unlock()
			return fresh, reserved, done, nil
		}
		s.pendingMu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, nil, nil, ctx.Err()
		}
	}
}

// release ends the in-flight window for keys and wakes batches waiting on them.
func (s *Service) release(keys []string, done chan struct{}) {
	s.pendingMu.Lock()
	for _, key := range keys {
		delete(s.pending, key)
	}
	s.pendingMu.Unlock()
	close(done)
}

// Ingest stores a single event.
func (s *Service) Ingest(ctx context.Context, e model.EventLog) (types.IngestResult, error) {
	return s.IngestBatch(ctx, []model.EventLog{e})
}

// Ping checks the stores that talk to an external service.
func (s *Service) Ping(ctx context.Context) error {
	for _, st := range []any{s.rankings, s.events} {
		if p, ok := st.(repository.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      started,
		"store":        s.backend,
		"dedupeSize":   s.dedupeSize,
		"dedupeWindow": s.DedupeWindow(),
		"maxBatchSize": s.maxBatchSize,
	}

	if n, err := s.rankings.Count(ctx); err == nil {
		stats["rankings"] = n
		metrics.UpdateRankingEntries(n)
	}
	if n, err := s.events.Count(ctx); err == nil {
		stats["events"] = n
		metrics.UpdateEventLogRecords(n)
	}
	return stats
}

// DedupeWindow returns the number of event keys currently remembered.
func (s *Service) DedupeWindow() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

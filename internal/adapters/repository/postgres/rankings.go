package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/okian/parry/internal/adapters/repository"
	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/pkg/metrics"
)

const rankingColumns = `id, session_id, nickname, password_hash, best_score, updated_at`

// upsertAttempts bounds retries when two first registrations of one nickname race.
const upsertAttempts = 3

func scanEntry(row pgx.Row) (model.RankingEntry, error) {
	var e model.RankingEntry
	err := row.Scan(&e.ID, &e.SessionID, &e.Nickname, &e.PasswordHash, &e.BestScore, &e.UpdatedAt)
	return e, err
}

// Upsert implements repository.RankingStore. The row is locked with
// SELECT ... FOR UPDATE for the whole callback. A missing row cannot be
// locked, so a concurrent first registration is detected by
// ON CONFLICT DO NOTHING and the callback is re-run against the winner's row.
func (s *Storage) Upsert(ctx context.Context, nickname string, fn repository.UpdateFunc) (*model.RankingEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	for attempt := 0; attempt < upsertAttempts; attempt++ {
		e, retry, err := s.upsertOnce(ctx, nickname, fn)
		if err != nil || !retry {
			return e, err
		}
	}
	return nil, s.fail("upsert", errors.New("registration kept conflicting"))
}

func (s *Storage) upsertOnce(ctx context.Context, nickname string, fn repository.UpdateFunc) (*model.RankingEntry, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, s.fail("upsert", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current *model.RankingEntry
	e, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+rankingColumns+` FROM rankings WHERE nickname = $1 FOR UPDATE`, nickname))
	switch {
	case err == nil:
		current = &e
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, false, s.fail("upsert", err)
	}

	var snapshot *model.RankingEntry
	if current != nil {
		c := *current
		snapshot = &c
	}
	next, err := fn(snapshot)
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return current, false, nil
	}

	stored := *next
	stored.Nickname = nickname

	if current == nil {
		err = tx.QueryRow(ctx, `
			INSERT INTO rankings (session_id, nickname, password_hash, best_score, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (nickname) DO NOTHING
			RETURNING id`,
			stored.SessionID, stored.Nickname, stored.PasswordHash, stored.BestScore, stored.UpdatedAt,
		).Scan(&stored.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, true, nil
		}
	} else {
		stored.ID = current.ID
		_, err = tx.Exec(ctx, `
			UPDATE rankings
			SET session_id = $2, password_hash = $3, best_score = $4, updated_at = $5
			WHERE id = $1`,
			stored.ID, stored.SessionID, stored.PasswordHash, stored.BestScore, stored.UpdatedAt)
	}
	if err != nil {
		return nil, false, s.fail("upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, s.fail("upsert", err)
	}
	return &stored, false, nil
}

// TopN implements repository.RankingStore.
func (s *Storage) TopN(ctx context.Context, n int) ([]model.RankingEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		return nil, repository.ErrInvalidLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+rankingColumns+` FROM rankings ORDER BY best_score DESC, id ASC LIMIT $1`, n)
	if err != nil {
		return nil, s.fail("top_n", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RankingEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, s.fail("top_n", err)
	}
	return out, nil
}

// Rank implements repository.RankingStore.
func (s *Storage) Rank(ctx context.Context, nickname string) (int, model.RankingEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var (
		e    model.RankingEntry
		rank int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT r.id, r.session_id, r.nickname, r.password_hash, r.best_score, r.updated_at,
		       1 + (SELECT count(*) FROM rankings o
		            WHERE o.best_score > r.best_score
		               OR (o.best_score = r.best_score AND o.id < r.id))
		FROM rankings r
		WHERE r.nickname = $1`, nickname,
	).Scan(&e.ID, &e.SessionID, &e.Nickname, &e.PasswordHash, &e.BestScore, &e.UpdatedAt, &rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.RankingEntry{}, repository.ErrNotFound
	}
	if err != nil {
		return 0, model.RankingEntry{}, s.fail("rank", err)
	}
	return int(rank), e, nil
}

// Count implements repository.RankingStore.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rankings`).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return int(n), nil
}

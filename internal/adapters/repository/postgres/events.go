package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/pkg/metrics"
)

var eventColumns = []string{ //nolint:gochecknoglobals // fixed COPY column list
	"event_time", "event_name", "session_id", "game_index", "user_id", "stage",
	"pattern_type", "direction", "sequence_order", "delay_ms", "reaction_time_ms",
	"fail_reason", "score", "star_speed", "extra_meta",
}

// EventLogs serves repository.EventStore from the same pool as Storage.
// Count has a different meaning for events than for rankings, so it lives on its own type.
type EventLogs struct {
	s *Storage
}

// Events returns the event-log view of the storage.
func (s *Storage) Events() *EventLogs {
	return &EventLogs{s: s}
}

// InsertBatch copies events inside one transaction: all rows commit or none do.
func (l *EventLogs) InsertBatch(ctx context.Context, events []model.EventLog) (int, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	if len(events) == 0 {
		return 0, nil
	}

	tx, err := l.s.pool.Begin(ctx)
	if err != nil {
		return 0, l.s.fail("insert_batch", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"game_event_logs"}, eventColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			var meta any
			if len(e.ExtraMeta) > 0 {
				meta = []byte(e.ExtraMeta)
			}
			return []any{
				e.EventTime, string(e.EventName), e.SessionID, e.GameIndex, e.UserID, e.Stage,
				e.PatternType, e.Direction, e.SequenceOrder, e.DelayMS, e.ReactionTimeMS,
				e.FailReason, e.Score, e.StarSpeed, meta,
			}, nil
		}))
	if err != nil {
		return 0, l.s.fail("insert_batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, l.s.fail("insert_batch", err)
	}
	return int(n), nil
}

// Count returns the number of stored events.
func (l *EventLogs) Count(ctx context.Context) (int, error) {
	var n int64
	if err := l.s.pool.QueryRow(ctx, `SELECT count(*) FROM game_event_logs`).Scan(&n); err != nil {
		return 0, l.s.fail("count_events", err)
	}
	return int(n), nil
}

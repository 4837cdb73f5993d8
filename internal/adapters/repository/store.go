// Package repository defines the ranking and event-log store interfaces, the
// in-memory implementations and the errors shared by every backend.
package repository

import (
	"context"

	"github.com/okian/parry/internal/domain/model"
)

// UpdateFunc decides the next state of a nickname's entry. current is nil
// when the nickname is not registered. Returning a nil entry leaves the
// store untouched; returning an error aborts without any write.
type UpdateFunc func(current *model.RankingEntry) (*model.RankingEntry, error)

// RankingStore provides serialized read-check-write access to the leaderboard.
type RankingStore interface {
	// Upsert runs fn while holding the nickname's write serialization and
	// stores the entry it returns. It returns the entry as stored, or the
	// current entry when fn made no change. Errors from fn are returned as is.
	Upsert(ctx context.Context, nickname string, fn UpdateFunc) (*model.RankingEntry, error)

	// TopN returns up to n entries ordered by best score desc, then id asc.
	TopN(ctx context.Context, n int) ([]model.RankingEntry, error)

	// Rank returns the 1-based position of nickname in TopN order.
	// Returns ErrNotFound if the nickname is unknown.
	Rank(ctx context.Context, nickname string) (int, model.RankingEntry, error)

	// Count returns the number of registered nicknames.
	Count(ctx context.Context) (int, error)
}

// EventStore appends telemetry events.
type EventStore interface {
	// InsertBatch stores every event or none of them and returns how many were stored.
	InsertBatch(ctx context.Context, events []model.EventLog) (int, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int, error)
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

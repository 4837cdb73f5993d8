package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/pkg/metrics"
)

// MemoryEventLog is an append-only in-memory EventStore.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events []model.EventLog
	nextID int64
}

// NewMemoryEventLog returns an empty event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

// InsertBatch appends events under one lock so a batch is visible all at once.
func (l *MemoryEventLog) InsertBatch(ctx context.Context, events []model.EventLog) (int, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	if len(events) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		l.nextID++
		e.ID = l.nextID
		l.events = append(l.events, e)
	}
	return len(events), nil
}

// Count returns the number of stored events.
func (l *MemoryEventLog) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events), nil
}

// BySession returns a session's events in storage order.
func (l *MemoryEventLog) BySession(sessionID string) []model.EventLog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.EventLog
	for _, e := range l.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

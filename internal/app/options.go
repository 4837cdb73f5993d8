package service

import (
	"time"

	"github.com/okian/parry/internal/adapters/repository"
	"github.com/okian/parry/internal/domain/password"
	"github.com/okian/parry/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRankingStore replaces the in-memory leaderboard.
func WithRankingStore(store repository.RankingStore) Option {
	return func(s *Service) {
		if store != nil {
			s.rankings = store
		}
	}
}

// WithEventStore replaces the in-memory event log.
func WithEventStore(store repository.EventStore) Option {
	return func(s *Service) {
		if store != nil {
			s.events = store
		}
	}
}

// WithBackendName labels the stores in stats and logs.
func WithBackendName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.backend = name
		}
	}
}

// WithHasher sets the password hasher.
func WithHasher(h password.Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithDedupeSize sets the size of the batch-retry dedupe window. Zero disables dedupe.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxBatchSize caps the number of events accepted per batch.
func WithMaxBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.maxBatchSize = size
		}
	}
}

// WithClock overrides the time source used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetricsInterval sets how often gauges are refreshed after Start.
func WithMetricsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.metricsInterval = d
		}
	}
}

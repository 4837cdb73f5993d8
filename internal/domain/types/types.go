// Package types contains the public read shapes shared by the service and the API.
package types

import (
	"time"

	"github.com/okian/parry/internal/domain/model"
)

// Standing is a leaderboard row as shown to clients. It never carries
// password material.
type Standing struct {
	Rank      int       `json:"rank,omitempty"`
	Nickname  string    `json:"nickname"`
	BestScore int64     `json:"best_score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StandingOf projects a stored entry to its public shape.
func StandingOf(e *model.RankingEntry) Standing {
	return Standing{
		Nickname:  e.Nickname,
		BestScore: e.BestScore,
		UpdatedAt: e.UpdatedAt,
	}
}

// SubmitResult reports the outcome of a ranking submission.
type SubmitResult struct {
	Outcome   model.Outcome
	Nickname  string
	BestScore int64
}

// IngestResult reports how a telemetry batch was applied.
type IngestResult struct {
	Persisted  int `json:"persisted"`
	Duplicates int `json:"duplicates"`
}

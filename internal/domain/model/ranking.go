package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Input limits for ranking submissions.
const (
	MaxNicknameLength = 32
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

// RankingEntry is the stored leaderboard row for one nickname.
type RankingEntry struct {
	ID           int64
	SessionID    string
	Nickname     string
	PasswordHash string
	BestScore    int64
	UpdatedAt    time.Time
}

// Submission is a client request to register or improve a score.
type Submission struct {
	Nickname  string
	Password  string
	Score     int64
	SessionID string
}

// Normalize trims the nickname and checks bounds. Errors wrap ErrValidation.
func (s *Submission) Normalize() error {
	s.Nickname = strings.TrimSpace(s.Nickname)
	s.SessionID = strings.TrimSpace(s.SessionID)

	switch n := utf8.RuneCountInString(s.Nickname); {
	case n == 0:
		return fmt.Errorf("%w: nickname is required", ErrValidation)
	case n > MaxNicknameLength:
		return fmt.Errorf("%w: nickname must be at most %d characters", ErrValidation, MaxNicknameLength)
	}
	switch {
	case s.Password == "":
		return fmt.Errorf("%w: password is required", ErrValidation)
	case len(s.Password) > MaxPasswordBytes:
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, MaxPasswordBytes)
	case s.Score < 0:
		return fmt.Errorf("%w: score must not be negative", ErrValidation)
	case s.SessionID == "":
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	return nil
}

// Outcome is the result of a ranking submission.
type Outcome string

// Submission outcomes.
const (
	OutcomeRegistered   Outcome = "registered"
	OutcomeUpdated      Outcome = "updated"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeUnauthorized Outcome = "unauthorized"
)

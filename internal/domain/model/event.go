// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EventName is the kind of gameplay telemetry event.
type EventName string

// Known event names.
const (
	EventSpawn   EventName = "pattern_spawn"
	EventSuccess EventName = "pattern_success"
	EventFail    EventName = "pattern_fail"
)

// DefaultUserID is stored when the client sends no user id.
const DefaultUserID = "noname"

// ParseEventName accepts the canonical names and the short forms the game
// client uses internally (spawn, success, fail).
func ParseEventName(s string) (EventName, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pattern_spawn", "spawn":
		return EventSpawn, nil
	case "pattern_success", "success":
		return EventSuccess, nil
	case "pattern_fail", "fail":
		return EventFail, nil
	default:
		return "", fmt.Errorf("%w: unknown event_name %q", ErrValidation, s)
	}
}

// EventLog is one immutable gameplay telemetry record.
type EventLog struct {
	ID             int64           `json:"id,omitempty"`
	EventTime      time.Time       `json:"event_time"`
	EventName      EventName       `json:"event_name"`
	SessionID      string          `json:"session_id"`
	GameIndex      int             `json:"game_index"`
	UserID         string          `json:"user_id"`
	Stage          string          `json:"stage"`
	PatternType    string          `json:"pattern_type"`
	Direction      *string         `json:"direction,omitempty"`
	SequenceOrder  int             `json:"sequence_order"`
	DelayMS        int             `json:"delay_ms"`
	ReactionTimeMS *int            `json:"reaction_time_ms,omitempty"`
	FailReason     *string         `json:"fail_reason,omitempty"`
	Score          *int            `json:"score,omitempty"`
	StarSpeed      *float64        `json:"star_speed,omitempty"`
	ExtraMeta      json.RawMessage `json:"extra_meta,omitempty"`
}

// Normalize validates e in place: it canonicalizes the event name, fills the
// default user id and converts the timestamp to UTC. Errors wrap ErrValidation.
func (e *EventLog) Normalize() error {
	name, err := ParseEventName(string(e.EventName))
	if err != nil {
		return err
	}
	e.EventName = name

	switch {
	case e.EventTime.IsZero():
		return fmt.Errorf("%w: event_time is required", ErrValidation)
	case strings.TrimSpace(e.SessionID) == "":
		return fmt.Errorf("%w: session_id is required", ErrValidation)
	case strings.TrimSpace(e.Stage) == "":
		return fmt.Errorf("%w: stage is required", ErrValidation)
	case strings.TrimSpace(e.PatternType) == "":
		return fmt.Errorf("%w: pattern_type is required", ErrValidation)
	case e.GameIndex < 0:
		return fmt.Errorf("%w: game_index must not be negative", ErrValidation)
	case e.SequenceOrder < 0:
		return fmt.Errorf("%w: sequence_order must not be negative", ErrValidation)
	case e.DelayMS < 0:
		return fmt.Errorf("%w: delay_ms must not be negative", ErrValidation)
	case e.ReactionTimeMS != nil && *e.ReactionTimeMS < 0:
		return fmt.Errorf("%w: reaction_time_ms must not be negative", ErrValidation)
	}

	// Integer fields are stored as 32-bit columns.
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"game_index", &e.GameIndex},
		{"sequence_order", &e.SequenceOrder},
		{"delay_ms", &e.DelayMS},
		{"reaction_time_ms", e.ReactionTimeMS},
		{"score", e.Score},
	} {
		if f.v != nil && (*f.v > math.MaxInt32 || *f.v < math.MinInt32) {
			return fmt.Errorf("%w: %s is out of range", ErrValidation, f.name)
		}
	}

	if len(e.ExtraMeta) > 0 {
		trimmed := bytes.TrimSpace(e.ExtraMeta)
		if bytes.Equal(trimmed, []byte("null")) {
			e.ExtraMeta = nil
		} else if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("%w: extra_meta must be a JSON object", ErrValidation)
		}
	}

	if strings.TrimSpace(e.UserID) == "" {
		e.UserID = DefaultUserID
	}
	e.EventTime = e.EventTime.UTC()
	return nil
}

// DedupeKey identifies an event across client retries of the same batch.
func (e *EventLog) DedupeKey() string {
	var b strings.Builder
	b.Grow(len(e.SessionID) + len(e.EventName) + 24)
	b.WriteString(e.SessionID)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(e.GameIndex))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(e.SequenceOrder))
	b.WriteByte('|')
	b.WriteString(string(e.EventName))
	return b.String()
}

// NormalizeBatch validates every event before any is stored. The first
// failure is returned with the offending index.
func NormalizeBatch(events []EventLog) error {
	for i := range events {
		if err := events[i].Normalize(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/internal/domain/types"
	"github.com/okian/parry/pkg/logger"
)

// LogsDependencies is the ingest side of the service.
type LogsDependencies interface {
	Ingest(ctx context.Context, e model.EventLog) (types.IngestResult, error)
	IngestBatch(ctx context.Context, events []model.EventLog) (types.IngestResult, error)
}

// LogsHandler serves telemetry ingest.
type LogsHandler struct {
	deps   LogsDependencies
	logger logger.Logger
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(deps LogsDependencies, log logger.Logger) *LogsHandler {
	return &LogsHandler{deps: deps, logger: log}
}

// eventTime accepts RFC 3339 timestamps and the zone-less ISO form that
// browsers' local formatting produces. Zone-less values are read as UTC.
type eventTime struct{ time.Time }

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *eventTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("event_time must be a string")
	}
	for _, layout := range eventTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("event_time %q is not an ISO 8601 timestamp", s)
}

// eventRequest is the wire shape of one event. Required numbers are pointers
// so an absent field is told apart from zero.
type eventRequest struct {
	EventTime      *eventTime      `json:"event_time"`
	EventName      string          `json:"event_name"`
	SessionID      string          `json:"session_id"`
	GameIndex      *int            `json:"game_index"`
	UserID         *string         `json:"user_id"`
	Stage          string          `json:"stage"`
	PatternType    string          `json:"pattern_type"`
	Direction      *string         `json:"direction"`
	SequenceOrder  *int            `json:"sequence_order"`
	DelayMS        *int            `json:"delay_ms"`
	ReactionTimeMS *int            `json:"reaction_time_ms"`
	FailReason     *string         `json:"fail_reason"`
	Score          *int            `json:"score"`
	StarSpeed      *float64        `json:"star_speed"`
	ExtraMeta      json.RawMessage `json:"extra_meta"`
}

func (e *eventRequest) toModel() (model.EventLog, error) {
	switch {
	case e.EventTime == nil:
		return model.EventLog{}, fmt.Errorf("%w: event_time is required", model.ErrValidation)
	case e.GameIndex == nil:
		return model.EventLog{}, fmt.Errorf("%w: game_index is required", model.ErrValidation)
	case e.SequenceOrder == nil:
		return model.EventLog{}, fmt.Errorf("%w: sequence_order is required", model.ErrValidation)
	case e.DelayMS == nil:
		return model.EventLog{}, fmt.Errorf("%w: delay_ms is required", model.ErrValidation)
	}

	out := model.EventLog{
		EventTime:      e.EventTime.Time,
		EventName:      model.EventName(e.EventName),
		SessionID:      e.SessionID,
		GameIndex:      *e.GameIndex,
		Stage:          e.Stage,
		PatternType:    e.PatternType,
		Direction:      e.Direction,
		SequenceOrder:  *e.SequenceOrder,
		DelayMS:        *e.DelayMS,
		ReactionTimeMS: e.ReactionTimeMS,
		FailReason:     e.FailReason,
		Score:          e.Score,
		StarSpeed:      e.StarSpeed,
		ExtraMeta:      e.ExtraMeta,
	}
	if e.UserID != nil {
		out.UserID = *e.UserID
	}
	return out, nil
}

type ingestResponse struct {
	Status     string `json:"status"`
	Count      int    `json:"count"`
	Duplicates int    `json:"duplicates"`
}

// HandlePostLog handles POST /logs with a single event.
func (h *LogsHandler) HandlePostLog(w http.ResponseWriter, r *http.Request) {
	const op = "api.postLog"

	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}
	e, err := req.toModel()
	if err != nil {
		respondError(w, r, h.logger, Wrap(op, err))
		return
	}

	res, err := h.deps.Ingest(r.Context(), e)
	if err != nil {
		respondError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "success", Count: res.Persisted, Duplicates: res.Duplicates})
}

// HandlePostBatch handles POST /logs/batch with a JSON array of events. The
// batch is stored entirely or not at all.
func (h *LogsHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.postBatch"

	var reqs []eventRequest
	if err := decodeBody(r, &reqs); err != nil {
		respondError(w, r, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}

	events := make([]model.EventLog, len(reqs))
	for i := range reqs {
		e, err := reqs[i].toModel()
		if err != nil {
			respondError(w, r, h.logger, WrapKind(op, ErrBadRequest, fmt.Errorf("event %d: %w", i, err)))
			return
		}
		events[i] = e
	}

	res, err := h.deps.IngestBatch(r.Context(), events)
	if err != nil {
		respondError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "success", Count: res.Persisted, Duplicates: res.Duplicates})
}

// decodeBody reads one JSON value and rejects trailing data.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// queryString trims a query parameter.
func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

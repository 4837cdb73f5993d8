package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	service "github.com/okian/parry/internal/app"
	"github.com/okian/parry/internal/domain/model"
	"github.com/okian/parry/internal/domain/types"
	"github.com/okian/parry/pkg/logger"
)

// RankingDependencies is the leaderboard side of the service.
type RankingDependencies interface {
	Submit(ctx context.Context, sub model.Submission) (types.SubmitResult, error)
	ListTop(ctx context.Context, n int) ([]types.Standing, error)
	Rank(ctx context.Context, nickname string) (types.Standing, error)
}

// RankingHandler serves score submission and leaderboard reads.
type RankingHandler struct {
	deps         RankingDependencies
	defaultLimit int
	maxLimit     int
	logger       logger.Logger
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(deps RankingDependencies, defaultLimit, maxLimit int, log logger.Logger) *RankingHandler {
	return &RankingHandler{deps: deps, defaultLimit: defaultLimit, maxLimit: maxLimit, logger: log}
}

type submitRequest struct {
	SessionID string `json:"session_id"`
	Nickname  string `json:"nickname"`
	Password  string `json:"password"`
	Score     *int64 `json:"score"`
}

type submitResponse struct {
	Status    string `json:"status"`
	Nickname  string `json:"nickname"`
	BestScore *int64 `json:"best_score,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleSubmit handles POST /ranking.
//
// 201 registered, 200 updated or unchanged, 401 wrong password.
func (h *RankingHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submitRanking"

	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, h.logger, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Score == nil {
		respondError(w, r, h.logger, WrapKind(op, ErrBadRequest, errors.New("score is required")))
		return
	}

	res, err := h.deps.Submit(r.Context(), model.Submission{
		Nickname:  req.Nickname,
		Password:  req.Password,
		Score:     *req.Score,
		SessionID: req.SessionID,
	})
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, submitResponse{
			Status:   string(model.OutcomeUnauthorized),
			Nickname: res.Nickname,
			Message:  "nickname is taken and the password does not match",
		})
		return
	case err != nil:
		respondError(w, r, h.logger, Wrap(op, err))
		return
	}

	status := http.StatusOK
	if res.Outcome == model.OutcomeRegistered {
		status = http.StatusCreated
	}
	best := res.BestScore
	writeJSON(w, status, submitResponse{
		Status:    string(res.Outcome),
		Nickname:  res.Nickname,
		BestScore: &best,
	})
}

// HandleList handles GET /ranking?limit=N.
func (h *RankingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.listRanking"

	n := h.defaultLimit
	if raw := queryString(r, "limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			respondError(w, r, h.logger, WrapKind(op, ErrBadRequest, errors.New("limit must be a positive integer")))
			return
		}
		if v > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded",
				errors.New("limit must not exceed "+strconv.Itoa(h.maxLimit)))
			return
		}
		n = v
	}

	top, err := h.deps.ListTop(r.Context(), n)
	if err != nil {
		respondError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, top)
}

// HandleRank handles GET /ranking/{nickname}.
func (h *RankingHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.rankRanking"

	nickname := chi.URLParam(r, "nickname")
	if nickname == "" {
		respondError(w, r, h.logger, NewKind(op, ErrBadRequest))
		return
	}

	st, err := h.deps.Rank(r.Context(), nickname)
	if err != nil {
		respondError(w, r, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

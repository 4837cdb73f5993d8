// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/okian/parry/internal/adapters/http/swagger"
	"github.com/okian/parry/pkg/logger"
	"github.com/okian/parry/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LogsDependencies
	RankingDependencies
	HealthDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	logsHandler    *LogsHandler
	rankingHandler *RankingHandler
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler

	allowedOrigins []string
	limiter        *ipLimiter
	maxBodyBytes   int64
	trustProxy     bool
	logger         logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		logsHandler:    NewLogsHandler(deps, cfg.logger),
		rankingHandler: NewRankingHandler(deps, cfg.defaultLimit, cfg.maxLimit, cfg.logger),
		healthHandler:  NewHealthHandler(deps),
		statsHandler:   NewStatsHandler(deps),
		allowedOrigins: cfg.allowedOrigins,
		maxBodyBytes:   cfg.maxBodyBytes,
		trustProxy:     cfg.trustProxy,
		logger:         cfg.logger,
	}
	if cfg.ratePerSecond > 0 {
		s.limiter = newIPLimiter(cfg.ratePerSecond, cfg.burst)
	}
	return s
}

// Routes builds the chi router. Game routes are served both at the root and
// under /api, which is where the game client posts.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestSize(s.maxBodyBytes))

	r.Get("/", MetricsMiddleware(handleRoot, "root"))
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(ctx, r)

	r.Group(s.gameRoutes)
	r.Route("/api", s.gameRoutes)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
	return r
}

func (s *Server) gameRoutes(r chi.Router) {
	r.Post("/logs", MetricsMiddleware(s.logsHandler.HandlePostLog, "logs"))
	r.Post("/logs/batch", MetricsMiddleware(s.logsHandler.HandlePostBatch, "logs_batch"))

	submit := MetricsMiddleware(s.rankingHandler.HandleSubmit, "ranking_submit")
	if s.limiter != nil {
		r.With(s.limiter.middleware("ranking_submit")).Post("/ranking", submit)
	} else {
		r.Post("/ranking", submit)
	}
	r.Get("/ranking", MetricsMiddleware(s.rankingHandler.HandleList, "ranking_list"))
	r.Get("/ranking/{nickname}", MetricsMiddleware(s.rankingHandler.HandleRank, "ranking_rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// respondError maps err to a status. Server-side failures are logged with
// their cause and answered with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("requestID", middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
		writeError(w, status, code, nil)
		return
	}
	writeError(w, status, code, err)
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is running!"})
}

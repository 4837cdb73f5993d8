package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/parry/internal/adapters/http/api"
	"github.com/okian/parry/internal/adapters/repository"
	"github.com/okian/parry/internal/adapters/repository/postgres"
	service "github.com/okian/parry/internal/app"
	"github.com/okian/parry/internal/config"
	"github.com/okian/parry/internal/domain/password"
	"github.com/okian/parry/pkg/logger"
	"github.com/okian/parry/pkg/metrics"
	"github.com/okian/parry/pkg/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Go and process collectors live on the default registry; ours is custom.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't available yet.
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		_, _ = os.Stderr.WriteString("parry: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// run wires the process from cfg and blocks until ctx is cancelled or the
// server fails.
func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithFile(cfg.LogFile)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.TracingEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	svc := service.New(
		service.WithLogger(log.Named("service")),
		service.WithRankingStore(st.rankings),
		service.WithEventStore(st.events),
		service.WithBackendName(cfg.Store),
		service.WithHasher(password.NewBcrypt(cfg.BcryptCost)),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithMaxBatchSize(cfg.MaxBatchSize),
		service.WithMetricsInterval(metrics.RefreshInterval()),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	router := api.NewServer(svc,
		api.WithLogger(log.Named("http")),
		api.WithRankingLimits(cfg.DefaultRankingLimit, cfg.MaxRankingLimit),
		api.WithAllowedOrigins(cfg.AllowedOrigins),
		api.WithRankingRateLimit(cfg.RankingRatePerSecond, cfg.RankingBurst),
		api.WithTrustedProxy(cfg.TrustProxyHeaders),
	).Routes(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
			return err
		}
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

type stores struct {
	rankings repository.RankingStore
	events   repository.EventStore
	close    func()
}

// openStores returns the configured backend. Postgres is migrated on start
// unless disabled.
func openStores(ctx context.Context, cfg *config.Config, log logger.Logger) (*stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.NewStorage(ctx, cfg.DatabaseURL, postgres.WithMaxConns(cfg.DBMaxConns))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.MigrateOnStart {
			n, err := pg.Migrate(ctx)
			if err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info(ctx, "schema migrated", logger.Int("applied", n))
		}
		return &stores{rankings: pg, events: pg.Events(), close: pg.Close}, nil
	default:
		return &stores{
			rankings: repository.NewTreapStore(),
			events:   repository.NewMemoryEventLog(),
			close:    func() {},
		}, nil
	}
}

// startSystemMetricsUpdater refreshes process gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	updateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// Package bootstrap wires the pieces every process in the saga shares —
// logger, tracing, Postgres, Redis, the message bus and its dead-letter
// sink, and the Prometheus metrics server — so each cmd/ entrypoint only
// composes its own domain wiring on top (§4.1, §9).
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/database/connect"
	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/config"
	"github.com/alpespartners/saga-orchestrator/internal/correlation"
	"github.com/alpespartners/saga-orchestrator/internal/metrics"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
	rediscache "github.com/alpespartners/saga-orchestrator/pkg/redis"
	"github.com/alpespartners/saga-orchestrator/pkg/tracing"
)

// Process bundles the shared infrastructure one process needs. Callers are
// responsible for closing it on shutdown.
type Process struct {
	Config        *config.Config
	Logger        logger.Logger
	DB            *sql.DB
	RedisClient   *rediscache.Client
	Cache         *rediscache.Cache
	Guard         *correlation.Guard
	Bus           bus.Bus
	MetricsServer *http.Server
	tracerCleanup func(context.Context) error
}

// New loads config and brings up logging, tracing, Postgres, Redis, the
// idempotency guard, the message bus (with a Redis-backed dead-letter
// sink), and the metrics HTTP server. serviceName tags the logger and the
// tracer.
func New(ctx context.Context, serviceName string) (*Process, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build logger: %w", err)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceName = serviceName
	tracingCfg.Environment = cfg.AppEnv
	var tracerCleanup func(context.Context) error
	if tp, cleanup, err := tracing.Init(tracingCfg); err != nil {
		log.Warn("bootstrap: tracing disabled, continuing without it", zap.Error(err))
	} else {
		if tp != nil {
			otel.SetTracerProvider(tp)
		}
		tracerCleanup = cleanup
	}

	db, err := connect.ConnectPostgres(ctx, log.GetZapLogger(), cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}

	redisClient, err := rediscache.NewClient(rediscache.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log.GetZapLogger())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: connect redis: %w", err)
	}

	guard := correlation.NewGuard(redisClient.Client, 24*time.Hour)
	dlq := bus.NewRedisDeadLetterSink(redisClient.Client, log)

	cache, err := rediscache.NewCache(&rediscache.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Namespace:    "saga",
		Context:      serviceName,
	}, log.GetZapLogger())
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: build redis cache: %w", err)
	}

	b, err := bus.New(cfg, dlq, log)
	if err != nil {
		_ = cache.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: build message bus: %w", err)
	}

	metricsAddr := cfg.MetricsPort
	if metricsAddr == "" {
		metricsAddr = "9090"
	}
	if metricsAddr[0] != ':' {
		metricsAddr = ":" + metricsAddr
	}
	metricsServer := metrics.NewServer(metricsAddr)

	return &Process{
		Config:        cfg,
		Logger:        log,
		DB:            db,
		RedisClient:   redisClient,
		Cache:         cache,
		Guard:         guard,
		Bus:           b,
		MetricsServer: metricsServer,
		tracerCleanup: tracerCleanup,
	}, nil
}

// ServeMetrics starts the Prometheus metrics server in the background. Bind
// failures are logged, not fatal: metrics are observability, not a
// correctness dependency.
func (p *Process) ServeMetrics() {
	go func() {
		if err := p.MetricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.Logger.Warn("bootstrap: metrics server exited", zap.Error(err))
		}
	}()
}

// Close tears down every resource in reverse acquisition order, logging
// failures instead of returning them: shutdown should proceed best-effort.
func (p *Process) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.MetricsServer.Shutdown(shutdownCtx); err != nil {
		p.Logger.Warn("bootstrap: metrics server shutdown failed", zap.Error(err))
	}
	if err := p.Bus.Close(); err != nil {
		p.Logger.Warn("bootstrap: bus close failed", zap.Error(err))
	}
	if err := p.Cache.Close(); err != nil {
		p.Logger.Warn("bootstrap: cache close failed", zap.Error(err))
	}
	if err := p.RedisClient.Close(); err != nil {
		p.Logger.Warn("bootstrap: redis close failed", zap.Error(err))
	}
	if err := p.DB.Close(); err != nil {
		p.Logger.Warn("bootstrap: db close failed", zap.Error(err))
	}
	if p.tracerCleanup != nil {
		if err := p.tracerCleanup(ctx); err != nil {
			p.Logger.Warn("bootstrap: tracer shutdown failed", zap.Error(err))
		}
	}
	if err := p.Logger.Sync(); err != nil {
		fmt.Printf("bootstrap: logger sync failed: %v\n", err)
	}
}

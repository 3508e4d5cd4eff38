// Package main is the entry point for the journey engine server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chamahq/journey/internal/approval"
	"github.com/chamahq/journey/internal/config"
	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/internal/journey"
	"github.com/chamahq/journey/internal/observability"
	"github.com/chamahq/journey/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "journey", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Stores. The memory driver serves local development and tests; the
	// postgres driver is the production path.
	stores, err := buildStores(ctx, cfg.Store)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer stores.close()

	// Definition service and version-pinned registry.
	defService := definition.NewService(stores.definitions)
	registry := definition.NewRegistry(stores.definitions,
		definition.WithCacheObserver(
			metrics.DefinitionCacheHitsTotal.Inc,
			metrics.DefinitionCacheMissTotal.Inc,
		),
	)

	if cfg.Definitions.SeedDirectory != "" {
		loader := definition.NewLoader(defService)
		seeded, err := loader.Seed(ctx, cfg.Definitions.SeedDirectory, cfg.Definitions.SeedTenants)
		if err != nil {
			logger.Error("definition seeding failed", zap.Error(err))
			return 1
		}
		logger.Info("definitions seeded",
			zap.Int("count", seeded),
			zap.String("directory", cfg.Definitions.SeedDirectory),
		)
	}

	// Transition engine.
	engine := journey.NewEngine(registry, stores.instances,
		journey.WithTransitionObserver(
			func(journeyCode, origin, status string) {
				metrics.TransitionsTotal.WithLabelValues(journeyCode, origin, status).Inc()
			},
			func(journeyCode string) {
				metrics.TransitionConflicts.WithLabelValues(journeyCode).Inc()
			},
		),
	)

	// Approval gate, policy source, and optional board projection.
	policies, err := buildPolicySource(cfg.Approvals, logger)
	if err != nil {
		logger.Error("policy source initialization failed", zap.Error(err))
		return 1
	}

	gateOpts := []approval.GateOption{
		approval.WithGateObserver(
			func(policyCode string) { metrics.ApprovalsOpenedTotal.WithLabelValues(policyCode).Inc() },
			func(policyCode, status string) {
				metrics.ApprovalsResolvedTotal.WithLabelValues(policyCode, status).Inc()
			},
			metrics.BoardProjectionFailures.Inc,
		),
	}
	if cfg.Approvals.Board.Enabled {
		breaker := approval.NewBreaker(3, 1, 30*time.Second)
		breaker.OnStateChange(func(state string) {
			metrics.BoardBreakerState.Set(breakerStateValue(state))
		})
		board := approval.NewBoardClient(
			cfg.Approvals.Board.BaseURL,
			os.Getenv(cfg.Approvals.Board.TokenEnv),
			cfg.Approvals.Board.Timeout,
			breaker,
		)
		gateOpts = append(gateOpts, approval.WithBoard(board))
		logger.Info("board projection enabled", zap.String("base_url", cfg.Approvals.Board.BaseURL))
	}
	gate := approval.NewGate(stores.approvals, engine, policies, logger, gateOpts...)

	resolver := journey.NewResolver(engine, gate)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Resolver:     resolver,
		Engine:       engine,
		Gate:         gate,
		Definitions:  defService,
		Readiness:    stores.readiness(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return 0
}

// storeSet bundles the three persistence stores behind their interfaces.
type storeSet struct {
	definitions definition.Store
	instances   journey.Store
	approvals   approval.Store
	pool        *pgxpool.Pool
}

func (s *storeSet) close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *storeSet) readiness() observability.ReadinessChecks {
	checks := observability.ReadinessChecks{}
	if hc, ok := s.definitions.(observability.HealthChecker); ok {
		checks.DefinitionStore = hc
	}
	if hc, ok := s.instances.(observability.HealthChecker); ok {
		checks.JourneyStore = hc
	}
	if hc, ok := s.approvals.(observability.HealthChecker); ok {
		checks.ApprovalStore = hc
	}
	return checks
}

func buildStores(ctx context.Context, cfg config.StoreConfig) (*storeSet, error) {
	switch cfg.Driver {
	case "memory":
		return &storeSet{
			definitions: definition.NewMemoryStore(),
			instances:   journey.NewMemoryStore(),
			approvals:   approval.NewMemoryStore(),
		}, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("environment variable %s is not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing database DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}

		return &storeSet{
			definitions: definition.NewPgStore(pool),
			instances:   journey.NewPgStore(pool),
			approvals:   approval.NewPgStore(pool),
			pool:        pool,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// breakerStateValue maps breaker states onto the gauge scale documented
// on journey_board_circuit_breaker_state.
func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

// failSafePolicies treats every policy code as blocking. Used when no policy
// file is configured so that gated commands park rather than slip through.
type failSafePolicies struct{}

func (failSafePolicies) Lookup(string) (approval.Policy, bool) { return approval.Policy{}, false }
func (failSafePolicies) Blocking(string) bool                  { return true }

func buildPolicySource(cfg config.ApprovalsConfig, logger *zap.Logger) (approval.PolicySource, error) {
	if cfg.PolicyFile == "" {
		logger.Warn("no approval policy file configured, all gated commands will block")
		return failSafePolicies{}, nil
	}
	return approval.NewStaticPolicySource(cfg.PolicyFile)
}

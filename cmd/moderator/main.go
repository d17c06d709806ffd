package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/api/handler"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/ai"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/aicache"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/decision"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/orchestrator"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/pattern"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/processor"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/rulecache"
	"github.com/Significant-Gravitas/AutoModerate/internal/notifier"
	"github.com/Significant-Gravitas/AutoModerate/internal/store"
	"github.com/Significant-Gravitas/AutoModerate/pkg/config"
	"github.com/Significant-Gravitas/AutoModerate/pkg/health"
	"github.com/Significant-Gravitas/AutoModerate/pkg/kafka"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/metrics"
	"github.com/Significant-Gravitas/AutoModerate/pkg/middleware"
	"github.com/Significant-Gravitas/AutoModerate/pkg/postgres"
	pkgredis "github.com/Significant-Gravitas/AutoModerate/pkg/redis"
	"github.com/Significant-Gravitas/AutoModerate/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting moderation service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgClient.Close()

	repo := store.NewPostgres(pgClient)
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	var redisClient *pkgredis.Client
	var resultCache aicache.Cache
	if cfg.Moderation.ResultCache.Backend == "redis" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, falling back to in-memory result cache", "error", err)
		} else {
			defer redisClient.Close()
			resultCache = aicache.NewRedis(redisClient, cfg.Moderation.ResultCache.TTL)
			slog.Info("ai result cache enabled",
				"backend", "redis",
				"addr", cfg.Redis.Addr,
				"ttl", cfg.Moderation.ResultCache.TTL,
			)
		}
	}
	if resultCache == nil {
		resultCache = aicache.NewMemory(cfg.Moderation.ResultCache.MaxEntries, cfg.Moderation.ResultCache.TTL)
		slog.Info("ai result cache enabled",
			"backend", "memory",
			"max_entries", cfg.Moderation.ResultCache.MaxEntries,
			"ttl", cfg.Moderation.ResultCache.TTL,
		)
	}

	ruleCache := rulecache.New(repo, cfg.Moderation.RuleCacheTTL, m)

	primary := ai.NewOpenAIProvider(cfg.AI.Primary)
	fallback := ai.NewOpenAIProvider(cfg.AI.Fallback)
	if !primary.Configured() {
		slog.Warn("primary ai provider not configured, ai rules will fail open", "provider", cfg.AI.Primary.Name)
	}
	evaluator := ai.NewEvaluator(cfg.AI, resultCache, primary, fallback, m)

	proc := processor.New(pattern.New(), evaluator, m)
	decider := decision.New(cfg.Moderation)

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ModerationEvents)
	defer eventsProducer.Close()
	dispatcher := notifier.NewDispatcher(notifier.NewKafkaSink(eventsProducer), cfg.Moderation.NotifyBufferSize, m)
	dispatcher.Start(ctx)
	defer dispatcher.Close()
	slog.Info("notification dispatcher started", "topic", cfg.Kafka.Topics.ModerationEvents)

	ruleUpdatesConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RuleUpdates, rulecache.HandleUpdate(ruleCache))
	go func() {
		if err := ruleUpdatesConsumer.Start(ctx); err != nil {
			slog.Error("rule updates consumer error", "error", err)
		}
	}()
	slog.Info("rule update consumer started", "topic", cfg.Kafka.Topics.RuleUpdates)

	orch := orchestrator.New(repo, ruleCache, proc, decider, dispatcher, m)

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pgClient.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusUp, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("ai_primary", func(ctx context.Context) health.ComponentHealth {
		state := evaluator.BreakerState()
		m.CircuitBreakerState.WithLabelValues("ai-primary").Set(float64(state))
		if state == resilience.StateOpen {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit open"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: state.String()}
	})

	h := handler.New(orch, repo, ruleCache, resultCache)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/moderate", h.Moderate)
	mux.HandleFunc("GET /api/v1/content/{id}", h.Content)
	mux.HandleFunc("GET /api/v1/projects/{id}/stats", h.ProjectStats)
	mux.HandleFunc("POST /api/v1/projects/{id}/cache/invalidate", h.InvalidateRules)
	mux.HandleFunc("POST /api/v1/cache/results/invalidate", h.InvalidateResults)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("moderation service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("moderation service stopped")
}

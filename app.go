package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/cache"
	"github.com/ekaya-inc/sanctions-engine/pkg/config"
	"github.com/ekaya-inc/sanctions-engine/pkg/database"
	"github.com/ekaya-inc/sanctions-engine/pkg/handlers"
	"github.com/ekaya-inc/sanctions-engine/pkg/llm"
	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
	"github.com/ekaya-inc/sanctions-engine/pkg/mcp"
	"github.com/ekaya-inc/sanctions-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/sanctions-engine/pkg/metrics"
	"github.com/ekaya-inc/sanctions-engine/pkg/middleware"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/sanctions"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sanctionsRepo repositories.SanctionsRepository
	syncService   services.SanctionsSyncService
	matchService  services.MatchService
}

// newApp connects to the database (and Redis when configured), applies
// migrations and wires the services. Close releases the connections.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	dbCfg := cfg.Database
	dbCfg.Host = config.ResolveHostForDocker(dbCfg.Host)

	logger.Info("Connecting to database",
		zap.String("host", dbCfg.Host),
		zap.Int("port", dbCfg.Port),
		zap.String("database", dbCfg.Database))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            dbCfg.URL(),
		MaxConnections: dbCfg.MaxConnections,
		ConnectRetries: 5,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %s", logging.SanitizeError(err))
	}

	if err := database.RunMigrationsFromPool(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	redisCfg := cfg.Redis
	redisCfg.Host = config.ResolveHostForDocker(redisCfg.Host)
	redisClient, err := database.NewRedisClient(ctx, &redisCfg)
	if err != nil {
		// The query cache is an optimization; screening works without it.
		logger.Warn("Redis unavailable; query-embedding cache disabled",
			zap.String("error", logging.SanitizeError(err)))
		redisClient = nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		registry: registry,
		metrics:  m,
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	sanctionsRepo := repositories.NewSanctionsRepository(a.db)
	embeddingRepo := repositories.NewEmbeddingRepository(a.db)
	a.sanctionsRepo = sanctionsRepo

	embedder, chat, err := newAIProviders(&cfg.AI, logger)
	if err != nil {
		return err
	}

	// Keep the backfill a nil interface when embeddings are off.
	var backfill services.EmbeddingBackfillService
	if embedder != nil {
		pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.AI.MaxConcurrent}, logger)
		backfill = services.NewEmbeddingBackfillService(
			sanctionsRepo,
			embeddingRepo,
			embedder,
			pool,
			services.BackfillConfig{
				BatchSize:      cfg.AI.EmbeddingBatchSize,
				RequestTimeout: cfg.AI.RequestTimeout,
			},
			a.metrics,
			logger,
		)
	} else {
		logger.Warn("No embedding provider configured; search uses SQL and LLM stages only")
	}

	fetcher := sanctions.NewFetcher(sanctions.FetcherConfig{
		Timeout:            cfg.Sanctions.FetchTimeout,
		InsecureSkipVerify: cfg.Sanctions.InsecureSkipVerify,
		MaxBytes:           cfg.Sanctions.MaxDocumentBytes,
	}, logger)
	filter := sanctions.NewFilter(sanctions.FilterConfig{
		TargetCountries:      cfg.Sanctions.TargetCountries,
		FoodKeywords:         cfg.Sanctions.FoodKeywords,
		ConstructionKeywords: cfg.Sanctions.ConstructionKeywords,
		PluralKeywords:       cfg.Sanctions.PluralKeywords,
	})

	a.syncService = services.NewSanctionsSyncService(
		fetcher,
		sanctions.NewParser(logger),
		filter,
		sanctionsRepo,
		backfill,
		services.SyncConfig{
			SourceURL:       config.ResolveURLForDocker(cfg.Sanctions.SourceURL),
			FetchMaxRetries: cfg.Sanctions.FetchMaxRetries,
		},
		a.metrics,
		logger,
	)

	var rankers []services.MatchStage
	if embedder != nil {
		var queryCache cache.QueryEmbeddingCache
		if a.redis != nil {
			queryCache = cache.NewRedisQueryEmbeddingCache(a.redis, cfg.Redis.QueryEmbeddingTTL, a.metrics, logger)
		}
		rankers = append(rankers, services.NewEmbeddingStage(
			embedder,
			embeddingRepo,
			queryCache,
			services.EmbeddingStageConfig{
				MinSimilarity:  cfg.Match.MinSimilarity,
				MaxResults:     cfg.Match.MaxResults,
				RequestTimeout: cfg.AI.RequestTimeout,
			},
			logger,
		))
	}
	if chat != nil {
		rankers = append(rankers, services.NewLLMRankStage(chat, services.LLMRankStageConfig{
			CandidateCap:   cfg.Match.LLMCandidateCap,
			MaxResults:     cfg.Match.MaxResults,
			RequestTimeout: cfg.AI.RequestTimeout,
		}, logger))
	}
	rankers = append(rankers, services.NewUnrankedFallbackStage(cfg.Match.FallbackConfidence, cfg.Match.MaxResults))

	a.matchService = services.NewMatchService(
		sanctionsRepo,
		services.NewSQLSubstringStage(sanctionsRepo, cfg.Match.SQLConfidence, cfg.Match.MaxResults),
		rankers,
		services.MatchServiceConfig{CandidatePoolSize: cfg.Match.CandidatePoolSize},
		a.metrics,
		logger,
	)
	return nil
}

// newAIProviders builds the breaker-guarded embedder and ranking chat client.
// Either may be nil when its provider is not configured.
func newAIProviders(cfg *config.AIConfig, logger *zap.Logger) (llm.Embedder, llm.ChatClient, error) {
	var (
		embedder llm.Embedder
		chat     llm.ChatClient
		client   *llm.Client
	)

	if cfg.APIKey != "" {
		c, err := llm.NewClient(&llm.Config{
			Endpoint:       config.ResolveURLForDocker(cfg.BaseURL),
			APIKey:         cfg.APIKey,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.RequestTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create AI client: %w", err)
		}
		client = c
	}

	if client != nil && cfg.EmbeddingsAvailable() {
		embedder = llm.NewGuardedEmbedder(client, llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
			Name:       "embeddings",
			Threshold:  cfg.BreakerThreshold,
			ResetAfter: cfg.BreakerResetAfter,
		}))
	}

	if cfg.RankingAvailable() {
		var inner llm.ChatClient
		if cfg.RankingProvider == "anthropic" {
			ac, err := llm.NewAnthropicClient(&llm.AnthropicConfig{
				APIKey:    cfg.AnthropicAPIKey,
				Model:     cfg.AnthropicModel,
				BaseURL:   cfg.AnthropicBaseURL,
				MaxTokens: 256,
				Timeout:   cfg.RequestTimeout,
			}, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("create Anthropic client: %w", err)
			}
			inner = ac
		} else if client != nil {
			inner = client
		}
		if inner != nil {
			chat = llm.NewGuardedChat(inner, llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
				Name:       "chat",
				Threshold:  cfg.BreakerThreshold,
				ResetAfter: cfg.BreakerResetAfter,
			}))
		}
	}

	logger.Info("AI providers",
		zap.Bool("embeddings", embedder != nil),
		zap.Bool("llm_ranking", chat != nil),
		zap.String("ranking_provider", cfg.RankingProvider))
	return embedder, chat, nil
}

// healthChecks checks the database and, when configured, Redis.
func (a *app) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return a.db.Ping(ctx) },
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// routes builds the HTTP handler: health, sanctions API, MCP and metrics.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	checks := a.healthChecks()
	handlers.NewHealthHandler(a.cfg, checks, a.logger).RegisterRoutes(mux)
	handlers.NewSanctionsHandler(a.syncService, a.matchService, a.sanctionsRepo, a.logger).RegisterRoutes(mux)

	toolChecks := make(map[string]tools.HealthCheck, len(checks))
	for name, check := range checks {
		toolChecks[name] = tools.HealthCheck(check)
	}
	mcpServer := mcp.NewServer("sanctions-engine", a.cfg.Version, a.logger,
		func(s *server.MCPServer) { tools.RegisterHealthTool(s, a.cfg.Version, toolChecks) },
		func(s *server.MCPServer) {
			tools.RegisterSanctionsTools(s, &tools.SanctionsToolDeps{
				MatchService: a.matchService,
				SyncService:  a.syncService,
				Repo:         a.sanctionsRepo,
				Logger:       a.logger.Named("mcp-tools"),
			})
		},
	)
	mux.Handle("/mcp", mcpServer.Handler())

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	return middleware.RequestLogger(a.logger.Named("http"), a.metrics)(mux)
}

// waitForJobs blocks until a running sync or backfill finishes, or timeout.
func (a *app) waitForJobs(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.syncService.Wait(ctx); err != nil {
		a.logger.Warn("Sync job still running at shutdown", zap.Error(err))
	}
}

// Close releases database and Redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	a.db.Close()
}

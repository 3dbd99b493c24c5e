package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/agent"
	"github.com/wargame-agent/backend/internal/api/handlers"
	"github.com/wargame-agent/backend/internal/cache/redis"
	"github.com/wargame-agent/backend/internal/chunking"
	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/extract"
	"github.com/wargame-agent/backend/internal/ingestion"
	"github.com/wargame-agent/backend/internal/llm"
	"github.com/wargame-agent/backend/internal/memory"
	"github.com/wargame-agent/backend/internal/metadata"
	"github.com/wargame-agent/backend/internal/metrics"
	correlationmw "github.com/wargame-agent/backend/internal/middleware/correlation"
	"github.com/wargame-agent/backend/internal/middleware/ratelimit"
	"github.com/wargame-agent/backend/internal/middleware/security"
	"github.com/wargame-agent/backend/internal/middleware/validation"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/tokenizer"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/internal/vector/memindex"
	"github.com/wargame-agent/backend/internal/vector/milvus"
	"github.com/wargame-agent/backend/pkg/config"
	appLogger "github.com/wargame-agent/backend/pkg/logger"
	"github.com/wargame-agent/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Wargame RAG Agent API Server")

	metrics.Init()

	catalog, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer catalog.Close()

	err = catalog.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// The "memory" endpoint selects the in-process index for local runs and
	// CI. Anything else is dialed as a Milvus address.
	var index vector.Index
	if cfg.Milvus.Endpoint == "memory" {
		index = memindex.New()
	} else {
		milvusClient, err := milvus.NewClient(
			cfg.Milvus.Endpoint,
			cfg.Milvus.CollectionName,
			cfg.Milvus.VectorDim,
			cfg.Milvus.Metric,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		if err := milvusClient.EnsureCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to ensure collection", zap.Error(err))
		}
		index = milvusClient
	}
	defer index.Close()

	var embedCache embedding.Cache
	var ledger memory.Ledger = memory.NewLocalLedger()
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Embedding.CacheTTL)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		embedCache = redisClient
		ledger = redisClient
	}

	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		embedder = embedding.NewOpenAI(
			cfg.Embedding.APIKey,
			cfg.Embedding.Model,
			cfg.Embedding.Dim,
			cfg.Embedding.BatchSize,
			time.Duration(cfg.Embedding.TimeoutSec)*time.Second,
			embedCache,
		)
	default:
		embedder = embedding.NewFake(cfg.Embedding.Dim)
	}

	segmenter := chunking.NewSegmenter(
		cfg.Ingestion.ChunkMaxTokens,
		cfg.Ingestion.ChunkOverlapTokens,
		tokenizer.NewWord(),
	)
	ingestor := ingestion.NewIngestor(
		extract.NewRegistry(),
		metadata.NewResolver(),
		segmenter,
		embedder,
		index,
		catalog,
		cfg.Ingestion.Workers,
	)

	retriever := retrieval.NewRetriever(embedder, index, catalog)

	policy := memory.Policy{
		DedupThreshold:  cfg.Memory.DedupThreshold,
		MergeThreshold:  cfg.Memory.MergeThreshold,
		DailyQuota:      cfg.Memory.DailyQuota,
		MaxMemoryLength: cfg.Memory.MaxMemoryLength,
		DefaultLimit:    cfg.Memory.DefaultLimit,
		TTL:             time.Duration(cfg.Memory.TTLDays) * 24 * time.Hour,
		HalfLife:        time.Duration(cfg.Memory.ImportanceHalfLife) * 24 * time.Hour,
		ImportanceFloor: cfg.Memory.ImportanceFloor,
	}
	backend := memory.NewHTTPBackend(
		cfg.Memory.BackendURL,
		cfg.Memory.APIKey,
		time.Duration(cfg.Memory.TimeoutSec)*time.Second,
	)
	gateway := memory.NewGateway(backend, ledger, policy)

	consolidatorCtx, stopConsolidator := context.WithCancel(context.Background())
	defer stopConsolidator()
	consolidator := memory.NewConsolidator(
		backend,
		ledger,
		policy,
		time.Duration(cfg.Memory.ConsolidationInterval)*time.Second,
	)
	consolidator.Start(consolidatorCtx)

	registry := agent.NewRegistry(retriever, gateway)

	var planner agent.Planner = agent.NewRulePlanner()
	if cfg.LLM.APIKey != "" {
		llmClient := llm.NewClient(
			cfg.LLM.APIKey,
			cfg.LLM.Model,
			cfg.LLM.Temperature,
			cfg.LLM.MaxTokens,
			time.Duration(cfg.LLM.TimeoutSec)*time.Second,
		)
		planner = agent.NewLLMPlanner(llmClient, registry)
	} else {
		appLogger.Warn("No LLM API key configured, using rule-based planner")
	}

	orchestrator := agent.New(registry, planner, agent.Config{
		MaxIterations:    cfg.Orchestrator.MaxToolIterations,
		FailureThreshold: uint32(cfg.Orchestrator.MaxConsecutiveFailedTools),
		Cooldown:         cfg.Orchestrator.Cooldown(),
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.Orchestrator.RetryMaxAttempts,
			BaseDelay:   cfg.Orchestrator.RetryBaseDelay(),
			MaxDelay:    cfg.Orchestrator.RetryMaxDelay(),
			Multiplier:  2.0,
			Logger:      appLogger.GetLogger(),
		},
		SessionTimeout: cfg.Orchestrator.SessionTimeout(),
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimitRPM,
		Burst:             cfg.Server.RateLimitBurst,
		Logger:            appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(correlationmw.Middleware())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Correlation-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	documentHandler := handlers.NewDocumentHandler(ingestor, catalog, retriever)
	searchHandler := handlers.NewSearchHandler(retriever)
	memoryHandler := handlers.NewMemoryHandler(gateway)
	agentHandler := handlers.NewAgentHandler(orchestrator)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/documents", documentHandler.IngestDocuments)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Get("/documents/:id/span", documentHandler.GetDocumentSpan)

	api.Post("/search", searchHandler.Search)
	api.Get("/collections", searchHandler.ListCollections)

	api.Post("/memories", memoryHandler.AddMemory)
	api.Post("/memories/search", memoryHandler.SearchMemories)
	api.Get("/memories", memoryHandler.ListMemories)
	api.Delete("/memories/:id", memoryHandler.DeleteMemory)

	api.Post("/agent/sessions", agentHandler.RunSession)
	api.Get("/agent/breakers", agentHandler.BreakerStates)

	api.Get("/health", searchHandler.Health)
	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopConsolidator()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/agent"
	"github.com/wargame-agent/backend/internal/cache/redis"
	"github.com/wargame-agent/backend/internal/embedding"
	"github.com/wargame-agent/backend/internal/mcpserver"
	"github.com/wargame-agent/backend/internal/memory"
	"github.com/wargame-agent/backend/internal/retrieval"
	"github.com/wargame-agent/backend/internal/storage/sqlite"
	"github.com/wargame-agent/backend/internal/vector"
	"github.com/wargame-agent/backend/internal/vector/memindex"
	"github.com/wargame-agent/backend/internal/vector/milvus"
	"github.com/wargame-agent/backend/pkg/config"
	appLogger "github.com/wargame-agent/backend/pkg/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries the protocol stream; logs must stay off it.
	if cfg.Logging.OutputPath == "stdout" {
		cfg.Logging.OutputPath = "stderr"
	}
	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	catalog, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer catalog.Close()

	err = catalog.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

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

	registry := agent.NewRegistry(retriever, gateway)

	s := mcpserver.New(registry, Version)

	appLogger.Info("MCP server starting on stdio", zap.String("version", Version))
	if err := server.ServeStdio(s); err != nil {
		appLogger.Fatal("MCP server terminated", zap.Error(err))
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wargame-agent/backend/internal/errs"
)

type Config struct {
	Server       ServerConfig
	Milvus       MilvusConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Embedding    EmbeddingConfig
	LLM          LLMConfig
	Ingestion    IngestionConfig
	Retrieval    RetrievalConfig
	Memory       MemoryConfig
	Orchestrator OrchestratorConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	RateLimitRPM   int
	RateLimitBurst int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
	IndexType      string
	Metric         string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	Dim        int
	BatchSize  int
	TimeoutSec int
	CacheTTL   int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type IngestionConfig struct {
	ChunkMaxTokens     int
	ChunkOverlapTokens int
	Workers            int
}

type RetrievalConfig struct {
	DefaultTopK     int
	DefaultMinScore float64
	DefaultSpan     int
}

type MemoryConfig struct {
	BackendURL            string
	APIKey                string
	TimeoutSec            int
	DedupThreshold        float64
	MergeThreshold        float64
	DailyQuota            int
	MaxMemoryLength       int
	DefaultLimit          int
	TTLDays               int
	ImportanceHalfLife    int
	ImportanceFloor       float64
	ConsolidationInterval int
}

type OrchestratorConfig struct {
	MaxToolIterations         int
	MaxConsecutiveFailedTools int
	CooldownSec               int
	RetryMaxAttempts          int
	RetryBaseDelayMs          int
	RetryMaxDelayMs           int
	SessionTimeoutSec         int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/wargame-agent")

	viper.SetEnvPrefix("WARGAME_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the options that cannot be defaulted. Violations are fatal
// at startup only.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			return &errs.ConfigurationError{Field: "embedding.apiKey", Reason: "required when embedding.provider is openai"}
		}
	case "fake":
	default:
		return &errs.ConfigurationError{Field: "embedding.provider", Reason: fmt.Sprintf("unknown provider %q", c.Embedding.Provider)}
	}

	if c.Embedding.Dim <= 0 {
		return &errs.ConfigurationError{Field: "embedding.dim", Reason: "must be positive"}
	}

	if c.Milvus.Endpoint == "" {
		return &errs.ConfigurationError{Field: "milvus.endpoint", Reason: "required"}
	}

	if c.Memory.BackendURL == "" {
		return &errs.ConfigurationError{Field: "memory.backendURL", Reason: "required"}
	}
	if c.Memory.DedupThreshold <= 0 || c.Memory.DedupThreshold > 1 {
		return &errs.ConfigurationError{Field: "memory.dedupThreshold", Reason: "must be in (0, 1]"}
	}

	if c.Ingestion.ChunkOverlapTokens >= c.Ingestion.ChunkMaxTokens {
		return &errs.ConfigurationError{Field: "ingestion.chunkOverlapTokens", Reason: "must be smaller than ingestion.chunkMaxTokens"}
	}

	if c.Orchestrator.MaxToolIterations <= 0 {
		return &errs.ConfigurationError{Field: "orchestrator.maxToolIterations", Reason: "must be positive"}
	}

	return nil
}

func (c *OrchestratorConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

func (c *OrchestratorConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c *OrchestratorConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func (c *OrchestratorConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSec) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.rateLimitRPM", 120)
	viper.SetDefault("server.rateLimitBurst", 20)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "wargame_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.indexType", "IVF_FLAT")
	viper.SetDefault("milvus.metric", "cosine")

	viper.SetDefault("sqlite.path", "./data/wargame.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("embedding.provider", "fake")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dim", 1536)
	viper.SetDefault("embedding.batchSize", 100)
	viper.SetDefault("embedding.timeoutSec", 30)
	viper.SetDefault("embedding.cacheTTL", 86400)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("ingestion.chunkMaxTokens", 800)
	viper.SetDefault("ingestion.chunkOverlapTokens", 200)
	viper.SetDefault("ingestion.workers", 4)

	viper.SetDefault("retrieval.defaultTopK", 8)
	viper.SetDefault("retrieval.defaultMinScore", 0.0)
	viper.SetDefault("retrieval.defaultSpan", 2)

	viper.SetDefault("memory.backendURL", "http://localhost:8000")
	viper.SetDefault("memory.timeoutSec", 15)
	viper.SetDefault("memory.dedupThreshold", 0.9)
	viper.SetDefault("memory.mergeThreshold", 0.95)
	viper.SetDefault("memory.dailyQuota", 100)
	viper.SetDefault("memory.maxMemoryLength", 2000)
	viper.SetDefault("memory.defaultLimit", 5)
	viper.SetDefault("memory.ttlDays", 90)
	viper.SetDefault("memory.importanceHalfLife", 30)
	viper.SetDefault("memory.importanceFloor", 0.05)
	viper.SetDefault("memory.consolidationInterval", 3600)

	viper.SetDefault("orchestrator.maxToolIterations", 8)
	viper.SetDefault("orchestrator.maxConsecutiveFailedTools", 3)
	viper.SetDefault("orchestrator.cooldownSec", 60)
	viper.SetDefault("orchestrator.retryMaxAttempts", 3)
	viper.SetDefault("orchestrator.retryBaseDelayMs", 1000)
	viper.SetDefault("orchestrator.retryMaxDelayMs", 8000)
	viper.SetDefault("orchestrator.sessionTimeoutSec", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

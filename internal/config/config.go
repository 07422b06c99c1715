package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMongo    = "mongo"
	StoreBackendMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	// Oracle
	AIProvider   string
	OpenAIKey    string
	OpenAIModel  string
	AIBaseURL    string
	GeminiKey    string
	GeminiModel  string
	AITimeout    time.Duration
	AIMaxRetries int
	AIDebugMode  bool

	// Tagging policy
	PrimaryThreshold    float64
	ConfidenceThreshold float64
	MaxTagsPerItem      int
	SecondarySample     int
	TaxonomyFile        string

	// Batching
	ContentBatchSize  int
	InterestBatchSize int
	BatchStagger      time.Duration
	BatchDelay        time.Duration

	// Matching
	MatchPrimaryThreshold   float64
	MatchSecondaryThreshold float64
	PeerSimilarity          float64

	// Storage and transport
	StoreBackend     string
	DatabaseURL      string
	MongoURI         string
	MongoDatabase    string
	RedisURL         string
	CacheTTL         time.Duration
	RabbitMQURL      string
	RabbitMQPrefetch int
	DLQRetention     time.Duration
	DLQGCInterval    time.Duration
	FixturesFile     string

	// Worker
	ReanalysisInterval   time.Duration
	ReanalysisStaleAfter time.Duration
	ReanalysisLimit      int
	AnalyzerVersion      string
	HealthAddr           string
	WorkerDebugMode      bool

	// Telemetry
	OTELEnabled  bool
	OTELEndpoint string
	ServiceName  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		AIProvider:   getEnv("AI_PROVIDER", "openai"),
		OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		GeminiKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		AITimeout:    getEnvDuration("AI_TIMEOUT", 30*time.Second),
		AIMaxRetries: getEnvInt("AI_MAX_RETRIES", 3),
		AIDebugMode:  getEnvBool("AI_DEBUG", false),

		PrimaryThreshold:    getEnvFloat("TAG_PRIMARY_THRESHOLD", 0.7),
		ConfidenceThreshold: getEnvFloat("TAG_CONFIDENCE_THRESHOLD", 0.7),
		MaxTagsPerItem:      getEnvInt("TAG_MAX_PER_ITEM", 5),
		SecondarySample:     getEnvInt("TAG_SECONDARY_SAMPLE", 8),
		TaxonomyFile:        getEnv("TAXONOMY_FILE", ""),

		ContentBatchSize:  getEnvInt("BATCH_SIZE_CONTENT", 8),
		InterestBatchSize: getEnvInt("BATCH_SIZE_INTEREST", 3),
		BatchStagger:      getEnvDuration("BATCH_STAGGER", 50*time.Millisecond),
		BatchDelay:        getEnvDuration("BATCH_DELAY", 2*time.Second),

		MatchPrimaryThreshold:   getEnvFloat("MATCH_PRIMARY_THRESHOLD", 0.7),
		MatchSecondaryThreshold: getEnvFloat("MATCH_SECONDARY_THRESHOLD", 0.6),
		PeerSimilarity:          getEnvFloat("MATCH_PEER_SIMILARITY", 0.3),

		StoreBackend:     getEnv("STORE_BACKEND", StoreBackendPostgres),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		MongoURI:         getEnv("MONGO_URI", ""),
		MongoDatabase:    getEnv("MONGO_DATABASE", "tagmatch"),
		RedisURL:         getEnv("REDIS_URL", ""),
		CacheTTL:         getEnvDuration("CACHE_TTL", 15*time.Minute),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 1),
		DLQRetention:     getEnvDuration("DLQ_RETENTION", 7*24*time.Hour),
		DLQGCInterval:    getEnvDuration("DLQ_GC_INTERVAL", time.Hour),
		FixturesFile:     getEnv("FIXTURES_FILE", ""),

		ReanalysisInterval:   getEnvDuration("REANALYSIS_INTERVAL", time.Hour),
		ReanalysisStaleAfter: getEnvDuration("REANALYSIS_STALE_AFTER", 7*24*time.Hour),
		ReanalysisLimit:      getEnvInt("REANALYSIS_LIMIT", 50),
		AnalyzerVersion:      getEnv("ANALYZER_VERSION", ""),
		HealthAddr:           getEnv("HEALTH_ADDR", ":8081"),
		WorkerDebugMode:      getEnvBool("WORKER_DEBUG_MODE", false),

		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("SERVICE_NAME", "tagmatch"),
	}

	if cfg.AnalyzerVersion == "" {
		cfg.AnalyzerVersion = cfg.AIProvider + ":" + cfg.Model()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Model returns the model name for the configured provider.
func (c *Config) Model() string {
	if c.AIProvider == "gemini" {
		return c.GeminiModel
	}
	return c.OpenAIModel
}

// Validate checks value ranges. Connection strings are checked by RequireStore and
// RequireQueue since not every command needs them.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"TAG_PRIMARY_THRESHOLD":     c.PrimaryThreshold,
		"TAG_CONFIDENCE_THRESHOLD":  c.ConfidenceThreshold,
		"MATCH_PRIMARY_THRESHOLD":   c.MatchPrimaryThreshold,
		"MATCH_SECONDARY_THRESHOLD": c.MatchSecondaryThreshold,
		"MATCH_PEER_SIMILARITY":     c.PeerSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if c.MaxTagsPerItem < 1 {
		return fmt.Errorf("TAG_MAX_PER_ITEM must be at least 1, got %d", c.MaxTagsPerItem)
	}
	if c.ContentBatchSize < 1 || c.InterestBatchSize < 1 {
		return fmt.Errorf("batch sizes must be at least 1")
	}
	if c.BatchStagger < 0 || c.BatchDelay < 0 {
		return fmt.Errorf("batch delays must not be negative")
	}
	if c.AIMaxRetries < 0 {
		return fmt.Errorf("AI_MAX_RETRIES must not be negative")
	}
	switch c.AIProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider)
	}
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMongo, StoreBackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// RequireStore returns an error when the selected store backend has no connection string.
func (c *Config) RequireStore() error {
	if c.StoreBackend == StoreBackendMongo && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required when STORE_BACKEND=mongo")
	}
	if c.StoreBackend == StoreBackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// RequireQueue returns an error when RabbitMQ is not configured.
func (c *Config) RequireQueue() error {
	if c.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required for job queueing")
	}
	return nil
}

// RequireOracle returns an error when the selected provider has no API key.
func (c *Config) RequireOracle() error {
	if c.AIProvider == "gemini" && c.GeminiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER=gemini")
	}
	if c.AIProvider == "openai" && c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER=openai")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

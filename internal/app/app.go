// Package app assembles the components shared by the worker and tagctl from a Config.
package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/benvon/tagmatch/internal/cache"
	"github.com/benvon/tagmatch/internal/config"
	"github.com/benvon/tagmatch/internal/database"
	"github.com/benvon/tagmatch/internal/docstore"
	"github.com/benvon/tagmatch/internal/recommend"
	"github.com/benvon/tagmatch/internal/services/ai"
	"github.com/benvon/tagmatch/internal/taxonomy"
	"github.com/benvon/tagmatch/internal/workers"
	"go.uber.org/zap"
)

// OpenStore connects the configured tag store backend and prepares its schema.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (database.Store, error) {
	if err := cfg.RequireStore(); err != nil {
		return nil, err
	}
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store := database.NewMemoryStore()
		if cfg.FixturesFile != "" {
			if err := store.LoadFixturesFile(cfg.FixturesFile); err != nil {
				return nil, err
			}
		}
		log.Info("using_memory_store", zap.String("fixtures", cfg.FixturesFile))
		return store, nil

	case config.StoreBackendMongo:
		store, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info("connected_to_mongodb", zap.String("database", cfg.MongoDatabase))
		return store, nil

	default:
		db, err := database.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("connected_to_database")
		return database.NewPostgresStore(db), nil
	}
}

// OpenCache connects Redis when REDIS_URL is set. It returns (nil, nil) otherwise.
func OpenCache(cfg *config.Config, log *zap.Logger) (*cache.RedisCache, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	c, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL, log)
	if err != nil {
		return nil, err
	}
	log.Info("connected_to_redis", zap.Duration("ttl", cfg.CacheTTL))
	return c, nil
}

// LoadTaxonomy returns the configured taxonomy, or the embedded default
func LoadTaxonomy(cfg *config.Config) (*taxonomy.Mapping, error) {
	m, err := taxonomy.Load(cfg.TaxonomyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	return m, nil
}

// NewOracle builds the configured provider behind a circuit breaker
func NewOracle(cfg *config.Config, log *zap.Logger) (ai.ContentClassifier, error) {
	if err := cfg.RequireOracle(); err != nil {
		return nil, err
	}
	settings := map[string]string{
		"timeout": cfg.AITimeout.String(),
		"debug":   strconv.FormatBool(cfg.AIDebugMode),
		"model":   cfg.Model(),
	}
	switch cfg.AIProvider {
	case "gemini":
		settings["api_key"] = cfg.GeminiKey
	default:
		settings["api_key"] = cfg.OpenAIKey
		settings["base_url"] = cfg.AIBaseURL
	}

	oracle, err := ai.NewDefaultRegistry().GetProvider(cfg.AIProvider, settings, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}
	log.Info("initialized_ai_provider",
		zap.String("provider", cfg.AIProvider),
		zap.String("model", cfg.Model()),
	)
	return ai.NewBreakerClassifier(oracle, ai.DefaultBreakerConfig(oracle.Name()), log), nil
}

// NewTagger applies the configured tagging policy to oracle
func NewTagger(cfg *config.Config, oracle ai.ContentClassifier, mapping *taxonomy.Mapping, log *zap.Logger) *ai.Tagger {
	opts := ai.DefaultTaggerOptions()
	opts.PrimaryThreshold = cfg.PrimaryThreshold
	opts.ConfidenceThreshold = cfg.ConfidenceThreshold
	opts.MaxTagsPerItem = cfg.MaxTagsPerItem
	opts.SecondarySample = cfg.SecondarySample
	opts.MaxRetries = cfg.AIMaxRetries
	return ai.NewTagger(oracle, mapping, opts, log)
}

// NewBatchClassifier paces c with the configured batch sizes and delays
func NewBatchClassifier(cfg *config.Config, c workers.Classifier, log *zap.Logger) *workers.BatchClassifier {
	return workers.NewBatchClassifier(c, workers.BatchOptions{
		ContentBatchSize:  cfg.ContentBatchSize,
		InterestBatchSize: cfg.InterestBatchSize,
		Stagger:           cfg.BatchStagger,
		Delay:             cfg.BatchDelay,
	}, log)
}

// NewContentAnalyzer wires the analysis pipeline. redis may be nil.
func NewContentAnalyzer(cfg *config.Config, store database.Store, batcher *workers.BatchClassifier, redis *cache.RedisCache, log *zap.Logger) *workers.ContentAnalyzer {
	var invalidator workers.CacheInvalidator
	if redis != nil {
		invalidator = redis
	}
	return workers.NewContentAnalyzer(store, batcher, invalidator, workers.AnalyzerOptions{
		StaleAfter:      cfg.ReanalysisStaleAfter,
		Limit:           cfg.ReanalysisLimit,
		AnalyzerVersion: cfg.AnalyzerVersion,
	}, log)
}

// Thresholds returns the configured matching thresholds
func Thresholds(cfg *config.Config) recommend.Thresholds {
	return recommend.Thresholds{
		Primary:        cfg.MatchPrimaryThreshold,
		Secondary:      cfg.MatchSecondaryThreshold,
		PeerSimilarity: cfg.PeerSimilarity,
	}
}

// NewRecommendService wires a Matcher and Service over store. redis may be nil.
func NewRecommendService(cfg *config.Config, store database.Store, mapping *taxonomy.Mapping, redis *cache.RedisCache, log *zap.Logger) *recommend.Service {
	var c recommend.Cache
	if redis != nil {
		c = redis
	}
	return recommend.NewService(store, recommend.NewMatcher(mapping, Thresholds(cfg), log), c, log)
}

package config

import (
	"testing"
	"time"
)

// configEnvVars lists every variable Load reads so each case starts from defaults.
var configEnvVars = []string{
	"AI_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "GEMINI_API_KEY",
	"GEMINI_MODEL", "AI_TIMEOUT", "AI_MAX_RETRIES", "AI_DEBUG",
	"TAG_PRIMARY_THRESHOLD", "TAG_CONFIDENCE_THRESHOLD", "TAG_MAX_PER_ITEM",
	"TAG_SECONDARY_SAMPLE", "TAXONOMY_FILE",
	"BATCH_SIZE_CONTENT", "BATCH_SIZE_INTEREST", "BATCH_STAGGER", "BATCH_DELAY",
	"MATCH_PRIMARY_THRESHOLD", "MATCH_SECONDARY_THRESHOLD", "MATCH_PEER_SIMILARITY",
	"STORE_BACKEND", "DATABASE_URL", "MONGO_URI", "MONGO_DATABASE", "REDIS_URL", "CACHE_TTL",
	"RABBITMQ_URL", "RABBITMQ_PREFETCH",
	"REANALYSIS_INTERVAL", "REANALYSIS_STALE_AFTER", "REANALYSIS_LIMIT", "ANALYZER_VERSION",
	"HEALTH_ADDR", "WORKER_DEBUG_MODE", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "SERVICE_NAME",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.PrimaryThreshold != 0.7 {
					t.Errorf("Expected PrimaryThreshold 0.7, got %v", cfg.PrimaryThreshold)
				}
				if cfg.ConfidenceThreshold != 0.7 {
					t.Errorf("Expected ConfidenceThreshold 0.7, got %v", cfg.ConfidenceThreshold)
				}
				if cfg.MaxTagsPerItem != 5 {
					t.Errorf("Expected MaxTagsPerItem 5, got %d", cfg.MaxTagsPerItem)
				}
				if cfg.InterestBatchSize != 3 || cfg.ContentBatchSize != 8 {
					t.Errorf("Unexpected batch sizes %d/%d", cfg.InterestBatchSize, cfg.ContentBatchSize)
				}
				if cfg.BatchDelay != 2*time.Second {
					t.Errorf("Expected BatchDelay 2s, got %v", cfg.BatchDelay)
				}
				if cfg.MatchSecondaryThreshold != 0.6 {
					t.Errorf("Expected MatchSecondaryThreshold 0.6, got %v", cfg.MatchSecondaryThreshold)
				}
				if cfg.ReanalysisStaleAfter != 7*24*time.Hour {
					t.Errorf("Expected 7 day staleness, got %v", cfg.ReanalysisStaleAfter)
				}
				if cfg.AnalyzerVersion != "openai:gpt-4o-mini" {
					t.Errorf("Expected derived analyzer version, got %q", cfg.AnalyzerVersion)
				}
			},
		},
		{
			name: "overrides",
			envVars: map[string]string{
				"AI_PROVIDER":              "gemini",
				"GEMINI_MODEL":             "gemini-2.5-pro",
				"TAG_CONFIDENCE_THRESHOLD": "0.55",
				"BATCH_DELAY":              "500ms",
				"STORE_BACKEND":            "mongo",
				"ANALYZER_VERSION":         "v9",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Model() != "gemini-2.5-pro" {
					t.Errorf("Expected gemini model, got %q", cfg.Model())
				}
				if cfg.ConfidenceThreshold != 0.55 {
					t.Errorf("Expected 0.55, got %v", cfg.ConfidenceThreshold)
				}
				if cfg.BatchDelay != 500*time.Millisecond {
					t.Errorf("Expected 500ms, got %v", cfg.BatchDelay)
				}
				if cfg.AnalyzerVersion != "v9" {
					t.Errorf("Expected explicit analyzer version, got %q", cfg.AnalyzerVersion)
				}
			},
		},
		{
			name:        "threshold out of range",
			envVars:     map[string]string{"TAG_PRIMARY_THRESHOLD": "1.5"},
			expectError: true,
		},
		{
			name:        "zero max tags",
			envVars:     map[string]string{"TAG_MAX_PER_ITEM": "0"},
			expectError: true,
		},
		{
			name:        "unknown provider",
			envVars:     map[string]string{"AI_PROVIDER": "parrot"},
			expectError: true,
		},
		{
			name:        "unknown store backend",
			envVars:     map[string]string{"STORE_BACKEND": "sqlite"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestRequireChecks(t *testing.T) {
	t.Parallel()

	cfg := &Config{AIProvider: "openai", StoreBackend: StoreBackendPostgres}
	if err := cfg.RequireStore(); err == nil {
		t.Error("Expected RequireStore error without DATABASE_URL")
	}
	if err := cfg.RequireQueue(); err == nil {
		t.Error("Expected RequireQueue error without RABBITMQ_URL")
	}
	if err := cfg.RequireOracle(); err == nil {
		t.Error("Expected RequireOracle error without OPENAI_API_KEY")
	}

	cfg.DatabaseURL = "postgres://localhost/tagmatch"
	cfg.RabbitMQURL = "amqp://localhost"
	cfg.OpenAIKey = "sk-test"
	if err := cfg.RequireStore(); err != nil {
		t.Errorf("RequireStore: %v", err)
	}
	if err := cfg.RequireQueue(); err != nil {
		t.Errorf("RequireQueue: %v", err)
	}
	if err := cfg.RequireOracle(); err != nil {
		t.Errorf("RequireOracle: %v", err)
	}

	cfg.StoreBackend = StoreBackendMongo
	if err := cfg.RequireStore(); err == nil {
		t.Error("Expected RequireStore error without MONGO_URI")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_FLOAT_KEY", "0.25")
	t.Setenv("TEST_BAD_FLOAT_KEY", "abc")
	t.Setenv("TEST_DURATION_KEY", "90s")
	t.Setenv("TEST_BOOL_KEY", "yes")
	t.Setenv("TEST_INT_KEY", "12")

	if got := getEnvFloat("TEST_FLOAT_KEY", 1); got != 0.25 {
		t.Errorf("getEnvFloat = %v, want 0.25", got)
	}
	if got := getEnvFloat("TEST_BAD_FLOAT_KEY", 1); got != 1 {
		t.Errorf("getEnvFloat with bad value = %v, want default 1", got)
	}
	if got := getEnvDuration("TEST_DURATION_KEY", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v, want 90s", got)
	}
	if got := getEnvBool("TEST_BOOL_KEY", false); !got {
		t.Error("getEnvBool = false, want true")
	}
	if got := getEnvInt("TEST_INT_KEY", 0); got != 12 {
		t.Errorf("getEnvInt = %d, want 12", got)
	}
	if got := getEnv("TEST_UNSET_KEY_XYZ", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want fallback", got)
	}
}

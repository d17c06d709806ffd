// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, AI providers, Moderation policy).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	AI         AIConfig         `yaml:"ai"`
	Moderation ModerationConfig `yaml:"moderation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the optional
// distributed result-cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ModerationEvents string `yaml:"moderationEvents"`
	RuleUpdates      string `yaml:"ruleUpdates"`
}

// ProviderConfig describes one external AI content-analysis endpoint. The
// endpoint is expected to speak an OpenAI-compatible chat completions API
// and return a structured verdict.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// AIConfig controls the AI evaluator: providers, token accounting, retry
// behaviour, and the process-wide concurrency cap for outbound calls.
type AIConfig struct {
	Primary  ProviderConfig `yaml:"primary"`
	Fallback ProviderConfig `yaml:"fallback"`

	ContextWindow        int `yaml:"contextWindow"`
	MaxOutputTokens      int `yaml:"maxOutputTokens"`
	ReservedPromptTokens int `yaml:"reservedPromptTokens"`

	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`

	MaxConcurrentCalls int `yaml:"maxConcurrentCalls"`
}

// ChunkBudget derives the per-chunk content token budget from the model
// context window minus the output-token allowance and prompt overhead, with
// a 10% safety margin. Never below 12000 tokens.
func (a AIConfig) ChunkBudget() int {
	available := float64(a.ContextWindow-a.MaxOutputTokens-a.ReservedPromptTokens) * 0.9
	if available < 12000 {
		return 12000
	}
	return int(available)
}

// ResultCacheConfig controls the AI result cache. The memory backend bounds
// the entry count; the redis backend relies on server-side TTL expiry.
type ResultCacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
}

// ModerationConfig holds the pipeline policy knobs. The fail-open default
// status and the manual-review threshold are business policy, configurable
// rather than baked in.
type ModerationConfig struct {
	RuleCacheTTL          time.Duration     `yaml:"ruleCacheTTL"`
	ResultCache           ResultCacheConfig `yaml:"resultCache"`
	ManualReviewThreshold float64           `yaml:"manualReviewThreshold"`
	DefaultStatus         string            `yaml:"defaultStatus"`
	NotifyBufferSize      int               `yaml:"notifyBufferSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env overrides are a full config on their own.
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "automoderate",
			User:            "automoderate",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "automoderate-group",
			Topics: KafkaTopics{
				ModerationEvents: "moderation-events",
				RuleUpdates:      "rule-updates",
			},
		},
		AI: AIConfig{
			Primary: ProviderConfig{
				Name:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-5-nano-2025-08-07",
			},
			Fallback: ProviderConfig{
				Name:    "openrouter",
				BaseURL: "https://openrouter.ai/api/v1",
				Model:   "openrouter/auto",
			},
			ContextWindow:        400000,
			MaxOutputTokens:      128000,
			ReservedPromptTokens: 2000,
			AttemptTimeout:       30 * time.Second,
			MaxAttempts:          3,
			RetryBaseDelay:       500 * time.Millisecond,
			RetryMaxDelay:        8 * time.Second,
			MaxConcurrentCalls:   10,
		},
		Moderation: ModerationConfig{
			RuleCacheTTL: 5 * time.Minute,
			ResultCache: ResultCacheConfig{
				Backend:    "memory",
				TTL:        time.Hour,
				MaxEntries: 2048,
			},
			ManualReviewThreshold: 0.3,
			DefaultStatus:         "approved",
			NotifyBufferSize:      10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads AM_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AM_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("AM_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("AM_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("AM_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("AM_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("AM_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("AM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("AM_OPENAI_API_KEY"); v != "" {
		cfg.AI.Primary.APIKey = v
	}
	if v := os.Getenv("AM_OPENAI_MODEL"); v != "" {
		cfg.AI.Primary.Model = v
	}
	if v := os.Getenv("AM_OPENROUTER_API_KEY"); v != "" {
		cfg.AI.Fallback.APIKey = v
	}
	if v := os.Getenv("AM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AM_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("AM_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

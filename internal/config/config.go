package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	RedisURL string

	LLMProvider     string
	LLMBaseURL      string
	ModelName       string
	AnthropicAPIKey string
	VeniceAPIKey    string
	OpenAIAPIKey    string

	GenerationTimeout time.Duration
	GenerationRetries int
	GenerationRPS     float64

	MetricsPort string
	WorkerID    string
}

// Load reads configuration from the environment. A .env file in the
// working directory (or the file named by ENV_FILE) is loaded first
// without overriding variables that are already set.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "anthropic")),
		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),
		ModelName:       getEnv("MODEL_NAME", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		VeniceAPIKey:    getEnv("VENICE_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		MetricsPort: getEnv("METRICS_PORT", "9090"),
		WorkerID:    getEnv("WORKER_ID", ""),
	}

	var err error
	if cfg.GenerationTimeout, err = time.ParseDuration(getEnv("GENERATION_TIMEOUT", "120s")); err != nil {
		return nil, fmt.Errorf("invalid GENERATION_TIMEOUT: %w", err)
	}
	if cfg.GenerationRetries, err = strconv.Atoi(getEnv("GENERATION_RETRIES", "2")); err != nil {
		return nil, fmt.Errorf("invalid GENERATION_RETRIES: %w", err)
	}
	if cfg.GenerationRPS, err = strconv.ParseFloat(getEnv("GENERATION_RPS", "2"), 64); err != nil {
		return nil, fmt.Errorf("invalid GENERATION_RPS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks provider credentials and numeric bounds.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when using anthropic provider")
		}
	case "venice":
		if c.VeniceAPIKey == "" {
			return fmt.Errorf("VENICE_API_KEY is required when using venice provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when using openai provider")
		}
	case "ollama", "mock":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER %q (supported: anthropic, venice, openai, ollama, mock)", c.LLMProvider)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.GenerationRetries < 0 {
		return fmt.Errorf("GENERATION_RETRIES cannot be negative")
	}
	if c.GenerationRPS < 0 {
		return fmt.Errorf("GENERATION_RPS cannot be negative")
	}
	return nil
}

// generationSlack covers retry backoff and rate limiter waits per attempt.
const generationSlack = 10 * time.Second

// GenerationBudget bounds one generation call with every retry it may make.
func (c *Config) GenerationBudget() time.Duration {
	attempts := time.Duration(c.GenerationRetries + 1)
	return attempts * (c.GenerationTimeout + generationSlack)
}

// LockTTL outlasts a turn that summarizes and then generates.
func (c *Config) LockTTL() time.Duration {
	return 2*c.GenerationBudget() + time.Minute
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

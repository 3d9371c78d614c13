package services

import (
	"fmt"
	"log/slog"

	"github.com/jwebster45206/troupe/internal/config"
	"github.com/jwebster45206/troupe/internal/metrics"
)

// NewLLMFromConfig builds the configured provider wrapped in ReliableLLM.
func NewLLMFromConfig(cfg *config.Config, m *metrics.Collector, logger *slog.Logger) (LLMService, error) {
	var inner LLMService
	switch cfg.LLMProvider {
	case "anthropic":
		inner = NewAnthropicService(cfg.AnthropicAPIKey, cfg.ModelName, cfg.LLMBaseURL, logger)
	case "venice":
		inner = NewOpenAICompatService("venice", cfg.VeniceAPIKey, cfg.ModelName, cfg.LLMBaseURL, logger)
	case "openai":
		inner = NewOpenAICompatService("openai", cfg.OpenAIAPIKey, cfg.ModelName, cfg.LLMBaseURL, logger)
	case "ollama":
		inner = NewOpenAICompatService("ollama", "", cfg.ModelName, cfg.LLMBaseURL, logger)
	case "mock":
		inner = NewMockLLMAPI()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewReliableLLM(inner, ReliableOptions{
		Provider: cfg.LLMProvider,
		Timeout:  cfg.GenerationTimeout,
		Retries:  cfg.GenerationRetries,
		RPS:      cfg.GenerationRPS,
		Metrics:  m,
	}, logger), nil
}

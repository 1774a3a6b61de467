package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/config"
)

const openAIDefaultEndpoint = "https://api.openai.com/v1"

// NewFromConfig builds the client for the configured extraction provider.
// It returns (nil, nil) for provider "none": extraction then runs without
// a language model.
func NewFromConfig(cfg config.ExtractionConfig, logger *zap.Logger) (LLMClient, error) {
	clientCfg := &Config{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		JSONMode:  true,
	}

	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderOpenAI:
		if clientCfg.Endpoint == "" {
			clientCfg.Endpoint = openAIDefaultEndpoint
		}
		return NewClient(clientCfg, logger)
	case config.ProviderAnthropic:
		// The endpoint default targets OpenAI; only honour an explicit override.
		if clientCfg.Endpoint == openAIDefaultEndpoint {
			clientCfg.Endpoint = ""
		}
		return NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
	}
}

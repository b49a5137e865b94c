package providers

import (
	"fmt"

	"github.com/lakshit-hivel/pr-copilot/internal/agent"
	"github.com/lakshit-hivel/pr-copilot/internal/config"
)

// New builds the LLM provider selected by the configuration.
func New(cfg config.LLMConfig) (agent.LLMProvider, error) {
	pc, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no configuration for provider %q", cfg.DefaultProvider)
	}

	switch cfg.DefaultProvider {
	case "openai":
		return NewOpenAIProvider(pc.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.DefaultProvider)
	}
}

// DefaultModel returns the configured model for the selected provider, or
// empty when unset.
func DefaultModel(cfg config.LLMConfig) string {
	if pc, ok := cfg.Providers[cfg.DefaultProvider]; ok {
		return pc.DefaultModel
	}
	return ""
}

// -- internal/llmclient/factory.go --
package llmclient

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
)

// NewRouterFromConfig resolves the configured fast and powerful models and
// wires them into a tiered router.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newClientForModel(cfg, cfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := newClientForModel(cfg, cfg.DefaultPowerfulModel, logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful, cfg.RequestsPerMinute)
}

// newClientForModel is a factory function that creates an LLMClient based on
// the named model's configuration. A model absent from the models map falls
// back to a bare Gemini entry using the model name directly.
func newClientForModel(cfg config.LLMRouterConfig, name string, logger *zap.Logger) (schemas.LLMClient, error) {
	model, ok := cfg.Models[name]
	if !ok {
		model = config.LLMModelConfig{Provider: config.ProviderGemini, Model: name}
	}
	if model.Model == "" {
		model.Model = name
	}
	if model.APIKey == "" {
		model.APIKey = os.Getenv("STRATA_LLM_API_KEY")
	}

	switch model.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(model, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]",
			model.Provider, config.ProviderGemini)
	}
}

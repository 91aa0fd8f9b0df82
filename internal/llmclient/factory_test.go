package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/strata-cli/internal/config"
)

func routerConfig() config.LLMRouterConfig {
	return config.LLMRouterConfig{
		DefaultFastModel:     "gemini-2.5-flash",
		DefaultPowerfulModel: "gemini-2.5-pro",
		RequestsPerMinute:    30,
		Models: map[string]config.LLMModelConfig{
			"gemini-2.5-flash": {Provider: config.ProviderGemini, APIKey: "key-fast"},
			"gemini-2.5-pro":   {Provider: config.ProviderGemini, APIKey: "key-powerful"},
		},
	}
}

func TestNewRouterFromConfig_Success(t *testing.T) {
	client, err := NewRouterFromConfig(routerConfig(), setupTestLogger(t))
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.IsType(t, &LLMRouter{}, client)
}

func TestNewRouterFromConfig_UnknownProvider(t *testing.T) {
	cfg := routerConfig()
	cfg.Models["gemini-2.5-pro"] = config.LLMModelConfig{Provider: "openai", APIKey: "k"}

	_, err := NewRouterFromConfig(cfg, setupTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "powerful tier")
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider")
}

func TestNewClientForModel(t *testing.T) {
	t.Run("unlisted model falls back to a bare gemini entry", func(t *testing.T) {
		t.Setenv("STRATA_LLM_API_KEY", "env-key")
		cfg := config.LLMRouterConfig{Models: map[string]config.LLMModelConfig{}}

		client, err := newClientForModel(cfg, "gemini-experimental", setupTestLogger(t))
		require.NoError(t, err)

		gemini, ok := client.(*GeminiClient)
		require.True(t, ok)
		assert.Equal(t, "env-key", gemini.apiKey)
		assert.Contains(t, gemini.endpoint, "gemini-experimental")
	})

	t.Run("model name fills an empty model field", func(t *testing.T) {
		cfg := config.LLMRouterConfig{Models: map[string]config.LLMModelConfig{
			"alias": {Provider: config.ProviderGemini, APIKey: "k"},
		}}

		client, err := newClientForModel(cfg, "alias", setupTestLogger(t))
		require.NoError(t, err)
		assert.Contains(t, client.(*GeminiClient).endpoint, "alias")
	})

	t.Run("missing api key everywhere is an error", func(t *testing.T) {
		t.Setenv("STRATA_LLM_API_KEY", "")
		cfg := config.LLMRouterConfig{Models: map[string]config.LLMModelConfig{}}

		_, err := newClientForModel(cfg, "gemini-2.5-pro", setupTestLogger(t))
		assert.Error(t, err)
	})
}

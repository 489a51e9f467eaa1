package ai_test

import (
	"testing"

	"github.com/kiranshivaraju/planwise/internal/ai"
	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerNames(ps []models.AIProvider) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	return names
}

func TestNewProvider_Families(t *testing.T) {
	cfg := config.AIConfig{
		Anthropic: config.ProviderConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5-20250929"},
		VLLM:      config.ProviderConfig{Model: "mistral-7b"},
		Ollama:    config.ProviderConfig{Model: "llama3"},
	}

	tests := []struct {
		in    string
		name  string
		model string
	}{
		{"anthropic", "anthropic", "claude-sonnet-4-5-20250929"},
		{"claude", "anthropic", "claude-sonnet-4-5-20250929"},
		{"openai", "openai", ""},
		{"vllm", "vllm", "mistral-7b"},
		{"qwen", "qwen", ""},
		{"gemini", "gemini", ""},
		{"ollama", "ollama", "llama3"},
		{"mock", "mock", "mock-strategy-writer"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ai.NewProvider(tt.in, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
			assert.Equal(t, tt.model, p.Model())
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := ai.NewProvider("unknown-provider", config.AIConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewProviders_AppendsMock(t *testing.T) {
	ps, err := ai.NewProviders(config.AIConfig{Providers: []string{"anthropic", "qwen"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "qwen", "mock"}, providerNames(ps))
}

func TestNewProviders_ListedMockMovesLast(t *testing.T) {
	ps, err := ai.NewProviders(config.AIConfig{Providers: []string{"mock", "openai", "mock", "anthropic"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "anthropic", "mock"}, providerNames(ps))
}

func TestNewProviders_DropsDuplicates(t *testing.T) {
	ps, err := ai.NewProviders(config.AIConfig{Providers: []string{"claude", "anthropic", "qwen"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "qwen", "mock"}, providerNames(ps))
}

func TestNewProviders_Empty(t *testing.T) {
	ps, err := ai.NewProviders(config.AIConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mock"}, providerNames(ps))
}

func TestNewProviders_Unknown(t *testing.T) {
	_, err := ai.NewProviders(config.AIConfig{Providers: []string{"anthropic", "bogus"}})
	require.Error(t, err)
}

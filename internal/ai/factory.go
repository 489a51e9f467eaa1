package ai

import (
	"fmt"

	"github.com/kiranshivaraju/planwise/internal/ai/anthropic"
	"github.com/kiranshivaraju/planwise/internal/ai/gemini"
	"github.com/kiranshivaraju/planwise/internal/ai/mock"
	"github.com/kiranshivaraju/planwise/internal/ai/ollama"
	"github.com/kiranshivaraju/planwise/internal/ai/openai"
	"github.com/kiranshivaraju/planwise/internal/ai/qwen"
	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// NewProvider constructs one AI provider by family name.
func NewProvider(name string, cfg config.AIConfig) (models.AIProvider, error) {
	family := config.NormalizeProvider(name)
	pc, _ := cfg.Provider(family)

	switch family {
	case config.ProviderAnthropic:
		return anthropic.NewProvider(pc), nil
	case config.ProviderOpenAI:
		return openai.NewProvider(pc), nil
	case config.ProviderVLLM:
		return openai.NewCompatible(config.ProviderVLLM, pc), nil
	case config.ProviderQwen:
		return qwen.NewProvider(pc), nil
	case config.ProviderGemini:
		return gemini.NewProvider(pc), nil
	case config.ProviderOllama:
		return ollama.NewProvider(pc), nil
	case config.ProviderMock:
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of anthropic, openai, qwen, gemini, ollama, vllm, mock", name)
	}
}

// NewProviders builds the fallback chain in AI_PROVIDERS order. Duplicates are
// dropped and the mock provider always sits last, wherever it was listed.
// Called once at worker startup.
func NewProviders(cfg config.AIConfig) ([]models.AIProvider, error) {
	seen := make(map[string]bool, len(cfg.Providers)+1)
	providers := make([]models.AIProvider, 0, len(cfg.Providers)+1)

	for _, name := range cfg.Providers {
		family := config.NormalizeProvider(name)
		if seen[family] || family == config.ProviderMock {
			continue
		}
		p, err := NewProvider(family, cfg)
		if err != nil {
			return nil, err
		}
		seen[family] = true
		providers = append(providers, p)
	}

	providers = append(providers, mock.NewMockProvider())
	return providers, nil
}

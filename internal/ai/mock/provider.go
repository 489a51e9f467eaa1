package mock

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

// ModelName is reported for every mock completion.
const ModelName = "mock-strategy-writer"

// MockProvider satisfies models.LocalProvider. It backs the last slot of the
// fallback chain and is used in tests.
type MockProvider struct {
	Name_        string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (models.ProviderResponse, error)
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return ModelName }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (models.ProviderResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return models.ProviderResponse{}, nil
}

// NewMockProvider returns a MockProvider producing deterministic placeholder text.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, req models.CompletionRequest) (models.ProviderResponse, error) {
			return models.ProviderResponse{Text: PlaceholderText(req)}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (models.ProviderResponse, error) {
			return models.ProviderResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (models.ProviderResponse, error) {
			<-ctx.Done()
			return models.ProviderResponse{}, ctx.Err()
		},
	}
}

// PlaceholderText is keyed on a hash of the prompt so identical prompts give identical output.
func PlaceholderText(req models.CompletionRequest) string {
	sum := md5.Sum([]byte(req.Prompt))
	tag := hex.EncodeToString(sum[:])[:6]

	system := req.SystemPrompt
	if system == "" {
		system = "senior business strategy consultant"
	}

	return fmt.Sprintf(`# Simulated business strategy analysis (%s)
Following the instruction "%s", this is placeholder analysis for the step:
- Key insight: match industry trends against user demand to find an actionable window of opportunity.
- Strategy: action paths for market entry, differentiated positioning and business model refinement.
- Risk notes: resource, competitive and compliance exposure with suggested mitigations.

(Placeholder output from the development provider, used while no real model key is configured.)`, tag, system)
}

// Compile-time check that MockProvider implements LocalProvider.
var _ models.LocalProvider = (*MockProvider)(nil)

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// Provider implements models.HTTPProvider for OpenAI chat completions and
// any server speaking the same protocol (vLLM, LocalAI, gateways).
type Provider struct {
	name        string
	cfg         config.ProviderConfig
	keyOptional bool
}

// NewProvider returns the hosted OpenAI provider. An API key is required.
func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{name: config.ProviderOpenAI, cfg: cfg}
}

// NewCompatible returns an OpenAI-compatible provider under the given name.
// The bearer token is only sent when configured.
func NewCompatible(name string, cfg config.ProviderConfig) *Provider {
	return &Provider{name: name, cfg: cfg, keyOptional: true}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) BuildRequest(ctx context.Context, req models.CompletionRequest) (*http.Request, error) {
	if p.cfg.APIKey == "" && !p.keyOptional {
		return nil, fmt.Errorf("%s: %w", p.name, models.ErrMissingAPIKey)
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: req.TemperatureOr(p.cfg.Temperature),
		MaxTokens:   req.MaxTokensOr(p.cfg.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return httpReq, nil
}

func (p *Provider) ParseResponse(body []byte) (models.ProviderResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("decoding %s response: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return models.ProviderResponse{}, fmt.Errorf("%s response has no choices", p.name)
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		text = resp.Choices[0].Text
	}
	return models.ProviderResponse{Text: text, TokensUsed: resp.Usage.TotalTokens}, nil
}

var _ models.HTTPProvider = (*Provider)(nil)

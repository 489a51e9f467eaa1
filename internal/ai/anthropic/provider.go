package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// APIVersion is sent as the anthropic-version header.
const APIVersion = "2023-06-01"

// Provider implements models.HTTPProvider against the Anthropic Messages API.
type Provider struct {
	cfg config.ProviderConfig
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string  { return config.ProviderAnthropic }
func (p *Provider) Model() string { return p.cfg.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) BuildRequest(ctx context.Context, req models.CompletionRequest) (*http.Request, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", models.ErrMissingAPIKey)
	}

	body, err := json.Marshal(messagesRequest{
		Model:       p.cfg.Model,
		MaxTokens:   req.MaxTokensOr(p.cfg.MaxTokens),
		Temperature: req.TemperatureOr(p.cfg.Temperature),
		System:      req.SystemPrompt,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)
	if p.cfg.Beta != "" {
		httpReq.Header.Set("anthropic-beta", p.cfg.Beta)
	}
	return httpReq, nil
}

// ParseResponse joins every text block of the reply.
func (p *Provider) ParseResponse(body []byte) (models.ProviderResponse, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("decoding anthropic response: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type != "" && block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
	}
	return models.ProviderResponse{
		Text:       sb.String(),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

var _ models.HTTPProvider = (*Provider)(nil)

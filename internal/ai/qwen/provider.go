package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// Provider implements models.HTTPProvider against the DashScope text-generation API.
type Provider struct {
	cfg config.ProviderConfig
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string  { return config.ProviderQwen }
func (p *Provider) Model() string { return p.cfg.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generationRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []message `json:"messages"`
	} `json:"input"`
	Parameters struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	} `json:"parameters"`
}

type generationResponse struct {
	Output struct {
		Text    string `json:"text"`
		Choices []struct {
			Text    string `json:"text"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) BuildRequest(ctx context.Context, req models.CompletionRequest) (*http.Request, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("qwen: %w", models.ErrMissingAPIKey)
	}

	var gen generationRequest
	gen.Model = p.cfg.Model
	if req.SystemPrompt != "" {
		gen.Input.Messages = append(gen.Input.Messages, message{Role: "system", Content: req.SystemPrompt})
	}
	gen.Input.Messages = append(gen.Input.Messages, message{Role: "user", Content: req.Prompt})
	gen.Parameters.Temperature = req.TemperatureOr(p.cfg.Temperature)
	gen.Parameters.MaxTokens = req.MaxTokensOr(p.cfg.MaxTokens)

	body, err := json.Marshal(gen)
	if err != nil {
		return nil, fmt.Errorf("encoding qwen request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	return httpReq, nil
}

// ParseResponse accepts both the text and the message result formats.
func (p *Provider) ParseResponse(body []byte) (models.ProviderResponse, error) {
	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("decoding qwen response: %w", err)
	}

	text := resp.Output.Text
	if text == "" && len(resp.Output.Choices) > 0 {
		text = resp.Output.Choices[0].Text
		if text == "" {
			text = resp.Output.Choices[0].Message.Content
		}
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	return models.ProviderResponse{Text: text, TokensUsed: tokens}, nil
}

var _ models.HTTPProvider = (*Provider)(nil)

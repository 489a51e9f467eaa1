package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// Provider implements models.HTTPProvider against the Gemini REST generateContent endpoint.
// Endpoint is the API base (e.g. https://generativelanguage.googleapis.com/v1beta).
type Provider struct {
	cfg config.ProviderConfig
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string  { return config.ProviderGemini }
func (p *Provider) Model() string { return p.cfg.Model }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Provider) BuildRequest(ctx context.Context, req models.CompletionRequest) (*http.Request, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", models.ErrMissingAPIKey)
	}

	gen := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     req.TemperatureOr(p.cfg.Temperature),
			MaxOutputTokens: req.MaxTokensOr(p.cfg.MaxTokens),
		},
	}
	if req.SystemPrompt != "" {
		gen.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	body, err := json.Marshal(gen)
	if err != nil {
		return nil, fmt.Errorf("encoding gemini request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(p.cfg.Endpoint, "/"), url.PathEscape(p.cfg.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
	return httpReq, nil
}

func (p *Provider) ParseResponse(body []byte) (models.ProviderResponse, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return models.ProviderResponse{}, fmt.Errorf("gemini response has no candidates")
	}

	var sb strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	return models.ProviderResponse{Text: sb.String(), TokensUsed: resp.UsageMetadata.TotalTokenCount}, nil
}

var _ models.HTTPProvider = (*Provider)(nil)

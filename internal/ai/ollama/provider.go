package ollama

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

// Provider implements models.HTTPProvider against a local Ollama server.
// Endpoint is the server base URL; no API key is needed.
type Provider struct {
	cfg config.ProviderConfig
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string  { return config.ProviderOllama }
func (p *Provider) Model() string { return p.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (p *Provider) BuildRequest(ctx context.Context, req models.CompletionRequest) (*http.Request, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: req.TemperatureOr(p.cfg.Temperature),
			NumPredict:  req.MaxTokensOr(p.cfg.MaxTokens),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding ollama request: %w", err)
	}

	u := strings.TrimRight(p.cfg.Endpoint, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (p *Provider) ParseResponse(body []byte) (models.ProviderResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("decoding ollama response: %w", err)
	}
	return models.ProviderResponse{
		Text:       resp.Message.Content,
		TokensUsed: resp.PromptEvalCount + resp.EvalCount,
	}, nil
}

var _ models.HTTPProvider = (*Provider)(nil)

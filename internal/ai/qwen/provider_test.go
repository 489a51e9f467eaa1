package qwen_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/kiranshivaraju/planwise/internal/ai/qwen"
	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ProviderConfig {
	return config.ProviderConfig{
		APIKey:      "sk-dash",
		Endpoint:    "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation",
		Model:       "qwen-plus",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

func TestBuildRequest(t *testing.T) {
	temp := 0.8
	req, err := qwen.NewProvider(testConfig()).BuildRequest(context.Background(), models.CompletionRequest{
		Prompt:       "idea",
		SystemPrompt: "consultant",
		Temperature:  &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-dash", req.Header.Get("Authorization"))

	raw, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var body struct {
		Model string `json:"model"`
		Input struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"input"`
		Parameters struct {
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
		} `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "qwen-plus", body.Model)
	require.Len(t, body.Input.Messages, 2)
	assert.Equal(t, "system", body.Input.Messages[0].Role)
	assert.Equal(t, "idea", body.Input.Messages[1].Content)
	assert.InDelta(t, 0.8, body.Parameters.Temperature, 0.0001)
	assert.Equal(t, 2048, body.Parameters.MaxTokens)
}

func TestBuildRequest_MissingKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""
	_, err := qwen.NewProvider(cfg).BuildRequest(context.Background(), models.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, models.ErrMissingAPIKey)
}

func TestParseResponse_OutputText(t *testing.T) {
	resp, err := qwen.NewProvider(testConfig()).ParseResponse([]byte(`{"output":{"text":"plain"},"usage":{"input_tokens":3,"output_tokens":4}}`))
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Text)
	assert.Equal(t, 7, resp.TokensUsed)
}

func TestParseResponse_ChoicesText(t *testing.T) {
	resp, err := qwen.NewProvider(testConfig()).ParseResponse([]byte(`{"output":{"choices":[{"text":"choice text"}]},"usage":{"total_tokens":9}}`))
	require.NoError(t, err)
	assert.Equal(t, "choice text", resp.Text)
	assert.Equal(t, 9, resp.TokensUsed)
}

func TestParseResponse_ChoicesMessage(t *testing.T) {
	resp, err := qwen.NewProvider(testConfig()).ParseResponse([]byte(`{"output":{"choices":[{"message":{"content":"message text"}}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "message text", resp.Text)
}

func TestParseResponse_Empty(t *testing.T) {
	resp, err := qwen.NewProvider(testConfig()).ParseResponse([]byte(`{"output":{}}`))
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
}

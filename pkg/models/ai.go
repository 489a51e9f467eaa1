// Package models contains shared data models used across the PlanWise codebase.
package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AIProvider is the identity every provider exposes. A provider must also be
// either an HTTPProvider or a LocalProvider. Never call specific AI providers
// directly; always go through the gateway.
type AIProvider interface {
	// Name returns the provider identifier (e.g., "anthropic", "qwen").
	Name() string
	// Model returns the configured model name.
	Model() string
}

// HTTPProvider is a provider reached over HTTP. It only translates between
// the neutral request/response shapes and its family's wire format.
type HTTPProvider interface {
	AIProvider
	BuildRequest(ctx context.Context, req CompletionRequest) (*http.Request, error)
	ParseResponse(body []byte) (ProviderResponse, error)
}

// LocalProvider answers in-process without a network call.
type LocalProvider interface {
	AIProvider
	Complete(ctx context.Context, req CompletionRequest) (ProviderResponse, error)
}

// CompletionRequest is the provider-neutral input of one model call.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	// Temperature overrides the provider default when set.
	Temperature *float64
	// MaxTokens overrides the provider default when > 0.
	MaxTokens int
}

// TemperatureOr returns the request temperature, or def when unset.
func (r CompletionRequest) TemperatureOr(def float64) float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return def
}

// MaxTokensOr returns the request token limit, or def when unset.
func (r CompletionRequest) MaxTokensOr(def int) int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return def
}

// ProviderResponse is the normalized output of one model call.
type ProviderResponse struct {
	Text       string
	TokensUsed int
}

// ErrMissingAPIKey is returned by providers that need credentials and have none.
var ErrMissingAPIKey = errors.New("provider API key not configured")

// ErrorKind classifies a failed provider call. The retry policy is keyed on it.
type ErrorKind int

const (
	// ErrorKindUpstream is any HTTP failure not covered by a more specific kind.
	ErrorKindUpstream ErrorKind = iota
	// ErrorKindTransport covers connect failures, resets and timeouts.
	ErrorKindTransport
	// ErrorKindRateLimited is HTTP 429.
	ErrorKindRateLimited
	// ErrorKindServerTransient is HTTP 502, 503 or 504.
	ErrorKindServerTransient
	// ErrorKindClientRejected is any other 4xx.
	ErrorKindClientRejected
	// ErrorKindMalformed is a 2xx whose body cannot be parsed or has no text.
	ErrorKindMalformed
	// ErrorKindMisconfigured means the call was never made.
	ErrorKindMisconfigured
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindRateLimited:
		return "rate_limited"
	case ErrorKindServerTransient:
		return "server_transient"
	case ErrorKindClientRejected:
		return "client_rejected"
	case ErrorKindMalformed:
		return "malformed"
	case ErrorKindMisconfigured:
		return "misconfigured"
	default:
		return "upstream"
	}
}

// ProviderError is returned by the gateway for every failed call.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Header     http.Header
	// RetryAfter is the server's hint on a 429. Zero means no usable hint.
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

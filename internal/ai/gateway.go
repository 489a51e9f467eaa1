package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBodyLen  = 1024
)

// GatewayConfig bounds a single provider call.
type GatewayConfig struct {
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// Gateway performs exactly one call against one provider and classifies the outcome.
// It never retries; that is the Orchestrator's job.
type Gateway struct {
	client *http.Client
	now    func() time.Time
}

// NewGateway builds a Gateway whose HTTP client enforces the request and connect timeouts.
func NewGateway(cfg GatewayConfig) *Gateway {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return NewGatewayWithClient(&http.Client{Timeout: cfg.RequestTimeout, Transport: transport})
}

// NewGatewayWithClient uses the given client as-is.
func NewGatewayWithClient(client *http.Client) *Gateway {
	return &Gateway{client: client, now: time.Now}
}

// Call sends req to p. On failure the error is always a *models.ProviderError.
func (g *Gateway) Call(ctx context.Context, p models.AIProvider, req models.CompletionRequest) (models.ProviderResponse, error) {
	switch prov := p.(type) {
	case models.LocalProvider:
		resp, err := prov.Complete(ctx, req)
		if err != nil {
			return models.ProviderResponse{}, localError(prov.Name(), err)
		}
		return normalize(prov.Name(), resp)
	case models.HTTPProvider:
		return g.callHTTP(ctx, prov, req)
	default:
		return models.ProviderResponse{}, &models.ProviderError{
			Kind:     models.ErrorKindMisconfigured,
			Provider: p.Name(),
			Err:      ErrUnsupportedProvider,
		}
	}
}

func (g *Gateway) callHTTP(ctx context.Context, p models.HTTPProvider, req models.CompletionRequest) (models.ProviderResponse, error) {
	httpReq, err := p.BuildRequest(ctx, req)
	if err != nil {
		return models.ProviderResponse{}, &models.ProviderError{
			Kind:     models.ErrorKindMisconfigured,
			Provider: p.Name(),
			Err:      err,
		}
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return models.ProviderResponse{}, classifyTransportError(p.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.ProviderResponse{}, classifyTransportError(p.Name(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ProviderResponse{}, g.statusError(p.Name(), resp, body)
	}

	out, err := p.ParseResponse(body)
	if err != nil {
		return models.ProviderResponse{}, &models.ProviderError{
			Kind:       models.ErrorKindMalformed,
			Provider:   p.Name(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %v", ErrInvalidResponse, err),
		}
	}
	return normalize(p.Name(), out)
}

func (g *Gateway) statusError(provider string, resp *http.Response, body []byte) *models.ProviderError {
	pe := &models.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       truncate(strings.TrimSpace(string(body)), maxErrorBodyLen),
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		pe.Kind = models.ErrorKindRateLimited
		pe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), g.now())
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		pe.Kind = models.ErrorKindServerTransient
	case code >= 400 && code < 500:
		pe.Kind = models.ErrorKindClientRejected
	default:
		pe.Kind = models.ErrorKindUpstream
	}
	return pe
}

// ParseRetryAfter reads a Retry-After value given as delta-seconds or an HTTP date.
// It returns zero when the header is absent, unparsable or already in the past.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// classifyTransportError maps errors that happen before a status line is read.
func classifyTransportError(provider string, err error) *models.ProviderError {
	return &models.ProviderError{
		Kind:     models.ErrorKindTransport,
		Provider: provider,
		Err:      err,
	}
}

// localError classifies a failure returned by an in-process provider.
func localError(provider string, err error) error {
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	kind := models.ErrorKindUpstream
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = models.ErrorKindTransport
	case errors.As(err, &netErr):
		kind = models.ErrorKindTransport
	case errors.Is(err, models.ErrMissingAPIKey):
		kind = models.ErrorKindMisconfigured
	}
	return &models.ProviderError{Kind: kind, Provider: provider, Err: err}
}

func normalize(provider string, resp models.ProviderResponse) (models.ProviderResponse, error) {
	resp.Text = strings.TrimSpace(resp.Text)
	if resp.Text == "" {
		return models.ProviderResponse{}, &models.ProviderError{
			Kind:     models.ErrorKindMalformed,
			Provider: provider,
			Err:      ErrEmptyResponse,
		}
	}
	return resp, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

package ai

import "errors"

var (
	ErrAllProvidersFailed  = errors.New("all AI providers failed")
	ErrNoProviders         = errors.New("no AI providers configured")
	ErrEmptyResponse       = errors.New("ai provider returned empty response")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrUnsupportedProvider = errors.New("ai provider has no call mechanism")
)

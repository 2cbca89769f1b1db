package provider

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks request-shape failures caught before any network
// call (empty prompt, out-of-bounds dimensions).
var ErrInvalidRequest = errors.New("invalid generation request")

// ConfigurationError reports a missing credential or project setting.
// Fatal to the request; never retried.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("%s configuration error: %s", e.Provider, e.Reason)
}

// UnsupportedModelError reports a model identifier with no mapped endpoint.
type UnsupportedModelError struct {
	Model    string
	Provider string
}

func (e *UnsupportedModelError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("unsupported model %q", e.Model)
	}
	return fmt.Sprintf("unsupported model %q for provider %s", e.Model, e.Provider)
}

// UpstreamError reports a provider call that failed or returned an unusable
// payload. Fatal to that request; surfaced with provider context.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Package llm adapts generative-model backends to a single Generate call.
//
// Providers never retry on their own: retry and degrade decisions belong to
// the pipeline's per-stage policy. Every provider failure is returned as a
// *TransportError so callers can classify it with errors.As.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Request is a single text generation call.
type Request struct {
	Prompt          string
	Temperature     float32
	MaxOutputTokens int
	// JSON asks the backend to constrain output to a JSON object.
	JSON bool
	// SchemaHint is a short description of the expected JSON shape.
	SchemaHint string
}

// Generator produces raw model text for a prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// TransportError is a backend call that did not produce text: network
// failure, timeout, quota exhaustion, server error or an empty response.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the identical call could succeed.
// Client errors other than 408 and 429 are not.
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// ErrEmptyResponse is wrapped when a backend returns no candidate text.
var ErrEmptyResponse = errors.New("empty response from model")

func transportErr(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Provider: provider, StatusCode: status, Err: err}
}

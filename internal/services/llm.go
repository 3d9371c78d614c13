package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jwebster45206/troupe/pkg/chat"
)

// LLMService is the text generation capability: a system prompt, a user
// prompt, declared tools and sampling parameters in; text, tool calls,
// optional reasoning and token usage out.
type LLMService interface {
	// InitModel prepares a model on startup. Hosted providers no-op.
	InitModel(ctx context.Context, modelName string) error

	// Generate runs one logical generation call. With MaxSteps > 1 the
	// provider acknowledges tool calls and continues until the model
	// stops calling tools or the step budget is spent.
	Generate(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error)
}

// Configuration errors are fatal to a call and never retried.
var (
	ErrMissingCredential = errors.New("missing API credential")
	ErrNoModel           = errors.New("no model configured")
)

// toolAck is the result sent back for each tool call during multi-step
// generation. Tools are applied after the call completes.
const toolAck = `{"status":"ok"}`

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

func resolveModel(req *chat.GenerateRequest, fallback string) (string, error) {
	if req.Model != "" {
		return req.Model, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNoModel
}

func maxSteps(req *chat.GenerateRequest) int {
	if req.MaxSteps < 1 {
		return 1
	}
	return req.MaxSteps
}

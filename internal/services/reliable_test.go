package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jwebster45206/troupe/internal/metrics"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineEstimator() *TokenEstimator {
	e := NewTokenEstimator("")
	e.once.Do(func() {})
	return e
}

func TestReliableLLM_RetriesTransient(t *testing.T) {
	mock := NewMockLLMAPI()
	mock.QueueError(&APIError{Provider: "x", StatusCode: http.StatusServiceUnavailable})
	mock.QueueError(&APIError{Provider: "x", StatusCode: http.StatusTooManyRequests})
	mock.QueueResponse(&chat.GenerateResponse{Text: "third time"})

	r := NewReliableLLM(mock, ReliableOptions{Provider: "x", Retries: 2, Backoff: time.Millisecond, Metrics: metrics.NewCollector()}, testLogger())
	resp, err := r.Generate(context.Background(), &chat.GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "third time", resp.Text)
	assert.Len(t, mock.GetGenerateCalls(), 3)
}

func TestReliableLLM_GivesUp(t *testing.T) {
	mock := NewMockLLMAPI()
	mock.SetGenerateError(&APIError{Provider: "x", StatusCode: http.StatusBadGateway})

	r := NewReliableLLM(mock, ReliableOptions{Retries: 1, Backoff: time.Millisecond}, testLogger())
	_, err := r.Generate(context.Background(), &chat.GenerateRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, mock.GetGenerateCalls(), 2)
}

func TestReliableLLM_NoRetryForPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"missing credential", fmt.Errorf("anthropic: %w", ErrMissingCredential)},
		{"no model", ErrNoModel},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}},
		{"parse failure", errors.New("failed to parse response")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockLLMAPI()
			mock.SetGenerateError(tt.err)
			r := NewReliableLLM(mock, ReliableOptions{Retries: 3, Backoff: time.Millisecond}, testLogger())
			_, err := r.Generate(context.Background(), &chat.GenerateRequest{})
			assert.Error(t, err)
			assert.Len(t, mock.GetGenerateCalls(), 1)
		})
	}
}

func TestReliableLLM_AttemptTimeout(t *testing.T) {
	mock := NewMockLLMAPI()
	mock.GenerateFunc = func(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := NewReliableLLM(mock, ReliableOptions{Timeout: 10 * time.Millisecond, Retries: 1, Backoff: time.Millisecond}, testLogger())
	_, err := r.Generate(context.Background(), &chat.GenerateRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, mock.GetGenerateCalls(), 2)
}

func TestReliableLLM_CancelledContext(t *testing.T) {
	mock := NewMockLLMAPI()
	mock.SetGenerateError(&APIError{StatusCode: http.StatusServiceUnavailable})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReliableLLM(mock, ReliableOptions{Retries: 5, RPS: 1}, testLogger())
	_, err := r.Generate(ctx, &chat.GenerateRequest{})
	assert.Error(t, err)
	assert.LessOrEqual(t, len(mock.GetGenerateCalls()), 1)
}

func TestTokenEstimator_Fallback(t *testing.T) {
	e := offlineEstimator()
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("abc"))
	assert.Equal(t, 2, e.Count("abcdefgh"))
}

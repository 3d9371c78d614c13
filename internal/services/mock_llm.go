package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/troupe/pkg/chat"
)

// MockLLMAPI is a mock implementation of LLMService for testing.
// Queued responses are returned in order before GenerateFunc or the
// default reply is used.
type MockLLMAPI struct {
	InitModelFunc func(ctx context.Context, modelName string) error
	GenerateFunc  func(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error)

	// Track calls for testing
	InitModelCalls []string
	GenerateCalls  []chat.GenerateRequest

	queued []mockReply
	mu     sync.Mutex // protects all fields above
}

type mockReply struct {
	resp *chat.GenerateResponse
	err  error
}

var _ LLMService = (*MockLLMAPI)(nil)

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{
		InitModelCalls: make([]string, 0),
		GenerateCalls:  make([]chat.GenerateRequest, 0),
	}
}

// InitModel mocks model initialization
func (m *MockLLMAPI) InitModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InitModelCalls = append(m.InitModelCalls, modelName)
	if m.InitModelFunc != nil {
		return m.InitModelFunc(ctx, modelName)
	}
	return nil
}

// Generate mocks a generation call
func (m *MockLLMAPI) Generate(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, *req)
	if len(m.queued) > 0 {
		next := m.queued[0]
		m.queued = m.queued[1:]
		m.mu.Unlock()
		return next.resp, next.err
	}
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &chat.GenerateResponse{
		Text:  "Mock response",
		Usage: chat.Usage{InputTokens: 10, OutputTokens: 5},
		Model: req.Model,
	}, nil
}

// QueueResponse appends a response to return from the next Generate call.
func (m *MockLLMAPI) QueueResponse(resp *chat.GenerateResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, mockReply{resp: resp})
}

// QueueError appends an error to return from the next Generate call.
func (m *MockLLMAPI) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, mockReply{err: err})
}

// SetInitModelError sets up the mock to return an error on InitModel
func (m *MockLLMAPI) SetInitModelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelFunc = func(ctx context.Context, modelName string) error {
		return err
	}
}

// SetGenerateError sets up the mock to fail every Generate call
func (m *MockLLMAPI) SetGenerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateFunc = func(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
		return nil, err
	}
}

// Reset clears all call tracking and queued responses
func (m *MockLLMAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitModelCalls = make([]string, 0)
	m.GenerateCalls = make([]chat.GenerateRequest, 0)
	m.queued = nil
}

// GetGenerateCalls returns a copy of the recorded Generate requests
func (m *MockLLMAPI) GetGenerateCalls() []chat.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.GenerateRequest, len(m.GenerateCalls))
	copy(out, m.GenerateCalls)
	return out
}

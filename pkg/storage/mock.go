package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
)

// MockStorage is a mock implementation of Storage for testing.
// Values are deep-copied on the way in and out so callers cannot
// mutate stored state without going through the interface.
type MockStorage struct {
	mu        sync.RWMutex
	world     *state.World
	settings  *state.Settings
	histories map[string][]chat.ChatMessage
	tokens    map[string]int
	pingError error
	commitErr error

	// Track calls for testing
	CommitCalls []state.TurnCommit
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		world:     state.NewWorld(),
		settings:  state.NewSettings(),
		histories: make(map[string][]chat.ChatMessage),
		tokens:    make(map[string]int),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetCommitError configures the mock to fail CommitTurn
func (m *MockStorage) SetCommitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) LoadWorld(ctx context.Context) (*state.World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.world.Clone(), nil
}

func (m *MockStorage) UpdateWorld(ctx context.Context, fn func(*state.World) error) (*state.World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.world.Clone()
	if err := fn(w); err != nil {
		return nil, err
	}
	w.UpdatedAt = time.Now()
	m.world = w
	return w.Clone(), nil
}

func (m *MockStorage) LoadSettings(ctx context.Context) (*state.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := *m.settings
	return &s, nil
}

func (m *MockStorage) UpdateSettings(ctx context.Context, fn func(*state.Settings) error) (*state.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.settings
	if err := fn(&s); err != nil {
		return nil, err
	}
	s.Normalize()
	m.settings = &s
	out := s
	return &out, nil
}

func (m *MockStorage) LoadHistory(ctx context.Context, locationID string) ([]chat.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneHistory(m.histories[locationID]), nil
}

func (m *MockStorage) SaveHistory(ctx context.Context, locationID string, history []chat.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[locationID] = cloneHistory(history)
	return nil
}

func (m *MockStorage) AppendMessages(ctx context.Context, locationID string, msgs ...chat.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[locationID] = append(cloneHistory(m.histories[locationID]), msgs...)
	return nil
}

func (m *MockStorage) ListHistories(ctx context.Context) (map[string][]chat.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]chat.ChatMessage, len(m.histories))
	for k, v := range m.histories {
		out[k] = cloneHistory(v)
	}
	return out, nil
}

func (m *MockStorage) DeleteHistory(ctx context.Context, locationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, locationID)
	delete(m.tokens, locationID)
	return nil
}

func (m *MockStorage) GetTokenCount(ctx context.Context, locationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[locationID], nil
}

func (m *MockStorage) SetTokenCount(ctx context.Context, locationID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[locationID] = count
	return nil
}

func (m *MockStorage) CommitTurn(ctx context.Context, commit *state.TurnCommit) ([]chat.ChatMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls = append(m.CommitCalls, *commit)
	if m.commitErr != nil {
		return nil, 0, m.commitErr
	}

	w := m.world.Clone()
	s := *m.settings
	state.NewDeltaWorker(w, &s, commit.Deltas, nil).Apply()
	if len(commit.Deltas) > 0 {
		w.UpdatedAt = time.Now()
	}
	m.world = w
	m.settings = &s

	history := commit.ApplyHistory(m.histories[commit.LocationID])
	m.histories[commit.LocationID] = history
	m.tokens[commit.LocationID] += commit.InputTokens
	return cloneHistory(history), m.tokens[commit.LocationID], nil
}

// GetCommitCalls returns a copy of the recorded commits
func (m *MockStorage) GetCommitCalls() []state.TurnCommit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]state.TurnCommit, len(m.CommitCalls))
	copy(out, m.CommitCalls)
	return out
}

func cloneHistory(h []chat.ChatMessage) []chat.ChatMessage {
	if h == nil {
		return []chat.ChatMessage{}
	}
	out := make([]chat.ChatMessage, len(h))
	copy(out, h)
	return out
}

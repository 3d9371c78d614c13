package storage

import (
	"context"
	"errors"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
)

// ErrConflict is returned when an optimistic update lost a race too
// many times in a row.
var ErrConflict = errors.New("concurrent update conflict")

// Storage defines a unified interface for all storage operations.
// World and settings updates are read-modify-write through a callback
// so concurrent edits to different records do not clobber each other.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// World operations. LoadWorld returns an empty world when none is stored.
	LoadWorld(ctx context.Context) (*state.World, error)
	UpdateWorld(ctx context.Context, fn func(*state.World) error) (*state.World, error)

	// Settings operations. LoadSettings returns defaults when none are stored.
	LoadSettings(ctx context.Context) (*state.Settings, error)
	UpdateSettings(ctx context.Context, fn func(*state.Settings) error) (*state.Settings, error)

	// Per-location history
	LoadHistory(ctx context.Context, locationID string) ([]chat.ChatMessage, error)
	SaveHistory(ctx context.Context, locationID string, history []chat.ChatMessage) error
	AppendMessages(ctx context.Context, locationID string, msgs ...chat.ChatMessage) error
	ListHistories(ctx context.Context) (map[string][]chat.ChatMessage, error)
	DeleteHistory(ctx context.Context, locationID string) error

	// Per-location cumulative input token counter
	GetTokenCount(ctx context.Context, locationID string) (int, error)
	SetTokenCount(ctx context.Context, locationID string, count int) error

	// CommitTurn applies one character turn atomically: history changes,
	// world and settings deltas, and the token counter increment.
	// It returns the resulting history and counter value.
	CommitTurn(ctx context.Context, commit *state.TurnCommit) ([]chat.ChatMessage, int, error)
}

package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage("redis://"+mr.Addr(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStorage_EmptyDefaults(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	w, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	assert.Empty(t, w.Characters)
	assert.Empty(t, w.Locations)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.NewSettings().Temperature, settings.Temperature)

	h, err := s.LoadHistory(ctx, "nowhere")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Empty(t, h)

	n, err := s.GetTokenCount(ctx, "nowhere")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStorage_UpdateWorld(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	var locID string
	_, err := s.UpdateWorld(ctx, func(w *state.World) error {
		loc, err := w.AddLocation(state.Location{Name: "Tavern"})
		if err != nil {
			return err
		}
		locID = loc.ID
		_, err = w.AddCharacter(state.Character{Name: "Ana", GroupChatID: loc.ID})
		return err
	})
	require.NoError(t, err)

	w, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	require.Len(t, w.Characters, 1)
	loc, ok := w.Location(locID)
	require.True(t, ok)
	assert.Equal(t, []string{w.Characters[0].ID}, loc.CharacterIDs)
	assert.False(t, w.UpdatedAt.IsZero())
}

func TestRedisStorage_UpdateWorldCallbackError(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	_, err := s.UpdateWorld(ctx, func(w *state.World) error {
		_, err := w.AddLocation(state.Location{Name: "A"})
		require.NoError(t, err)
		return state.ErrNameRequired
	})
	assert.ErrorIs(t, err, state.ErrNameRequired)

	w, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	assert.Empty(t, w.Locations, "failed update must not be persisted")
}

func TestRedisStorage_ConcurrentUpdatesDoNotClobber(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	names := []string{"North", "South", "East", "West"}
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := s.UpdateWorld(ctx, func(w *state.World) error {
				_, err := w.AddLocation(state.Location{Name: name})
				return err
			})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	w, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	assert.Len(t, w.Locations, len(names))
}

func TestRedisStorage_UpdateSettings(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	out, err := s.UpdateSettings(ctx, func(st *state.Settings) error {
		st.Profile.Name = "Sam"
		st.ShareProfile = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Sam", out.UserDisplayName())

	loaded, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.ProfileShared())
}

func TestRedisStorage_History(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	first := chat.NewMessage(chat.MessageTypeUser, "You", "hello")
	require.NoError(t, s.SaveHistory(ctx, "loc-1", []chat.ChatMessage{first}))
	second := chat.NewCharacterMessage("c1", "Ana", "hi")
	require.NoError(t, s.AppendMessages(ctx, "loc-1", second))
	require.NoError(t, s.SaveHistory(ctx, "loc-2", nil))

	h, err := s.LoadHistory(ctx, "loc-1")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, first.ID, h[0].ID)
	assert.Equal(t, "c1", h[1].CharID)

	all, err := s.ListHistories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, all["loc-1"], 2)
	assert.Empty(t, all["loc-2"])

	require.NoError(t, s.SetTokenCount(ctx, "loc-1", 42))
	require.NoError(t, s.DeleteHistory(ctx, "loc-1"))
	h, err = s.LoadHistory(ctx, "loc-1")
	require.NoError(t, err)
	assert.Empty(t, h)
	n, err := s.GetTokenCount(ctx, "loc-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStorage_CommitTurn(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	var anaID, hallID, yardID string
	_, err := s.UpdateWorld(ctx, func(w *state.World) error {
		hall, _ := w.AddLocation(state.Location{Name: "Hall"})
		yard, _ := w.AddLocation(state.Location{Name: "Yard"})
		ana, err := w.AddCharacter(state.Character{Name: "Ana", GroupChatID: hall.ID})
		hallID, yardID, anaID = hall.ID, yard.ID, ana.ID
		return err
	})
	require.NoError(t, err)

	loading := chat.NewLoadingMessage(anaID, "Ana")
	require.NoError(t, s.AppendMessages(ctx, hallID, chat.NewMessage(chat.MessageTypeUser, "You", "go outside"), loading))
	require.NoError(t, s.SetTokenCount(ctx, hallID, 2999))

	history, tokens, err := s.CommitTurn(ctx, &state.TurnCommit{
		LocationID: hallID,
		LoadingID:  loading.ID,
		Messages: []chat.ChatMessage{
			chat.NewCharacterMessage(anaID, "Ana", "Fine."),
			chat.NewMessage(chat.MessageTypeNarration, chat.SenderNarrator, "*Ana moved to Yard.*"),
		},
		Deltas: []state.Delta{
			state.NoteDelta(anaID, "user wanted fresh air"),
			state.RelocateDelta(anaID, yardID),
			state.MembershipDelta(hallID, nil, []string{anaID}),
			state.MembershipDelta(yardID, []string{anaID}, nil),
			state.LabelDelta("Sam"),
		},
		InputTokens: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 3049, tokens)
	require.Len(t, history, 3)
	assert.Equal(t, -1, chat.IndexOf(history, loading.ID))

	w, err := s.LoadWorld(ctx)
	require.NoError(t, err)
	ana, _ := w.Character(anaID)
	assert.Equal(t, yardID, ana.GroupChatID)
	assert.Equal(t, []string{"user wanted fresh air"}, ana.Notes)
	hall, _ := w.Location(hallID)
	yard, _ := w.Location(yardID)
	assert.Empty(t, hall.CharacterIDs)
	assert.Equal(t, []string{anaID}, yard.CharacterIDs)
	require.NoError(t, w.CheckIndex())

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sam", settings.StrangerLabel)

	stored, err := s.LoadHistory(ctx, hallID)
	require.NoError(t, err)
	assert.Equal(t, history, stored)
}

func TestRedisStorage_CommitTurnWithoutDeltasLeavesWorld(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	_, tokens, err := s.CommitTurn(ctx, &state.TurnCommit{
		LocationID:  "loc",
		Messages:    []chat.ChatMessage{chat.NewCharacterMessage("c", "C", "hi")},
		InputTokens: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, tokens)
	assert.False(t, mr.Exists(worldKey))
	assert.False(t, mr.Exists(settingsKey))
}

func TestNewRedisStorage_BareAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(mr.Addr(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewRedisStorage_BadURL(t *testing.T) {
	_, err := NewRedisStorage("redis://localhost:6379/notanumber", slog.Default())
	assert.Error(t, err)
}

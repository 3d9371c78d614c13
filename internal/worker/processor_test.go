package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jwebster45206/troupe/internal/roleplay"
	"github.com/jwebster45206/troupe/internal/services"
	redisstore "github.com/jwebster45206/troupe/internal/storage"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/prompts"
	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	proc   *TurnProcessor
	store  *storage.MockStorage
	llm    *services.MockLLMAPI
	locker *LocalLocker

	hall, yard string
	ana, bo    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  storage.NewMockStorage(),
		llm:    services.NewMockLLMAPI(),
		locker: NewLocalLocker(),
	}
	_, err := h.store.UpdateWorld(context.Background(), func(w *state.World) error {
		hall, err := w.AddLocation(state.Location{Name: "Hall", Exposition: []string{"Rain hammers the roof.", " ", "A fire crackles."}})
		if err != nil {
			return err
		}
		h.hall = hall.ID
		yard, err := w.AddLocation(state.Location{Name: "Yard"})
		if err != nil {
			return err
		}
		h.yard = yard.ID
		ana, err := w.AddCharacter(state.Character{Name: "Ana", GroupChatID: h.hall})
		if err != nil {
			return err
		}
		h.ana = ana.ID
		bo, err := w.AddCharacter(state.Character{Name: "Bo", GroupChatID: h.yard})
		if err != nil {
			return err
		}
		h.bo = bo.ID
		return nil
	})
	require.NoError(t, err)

	h.proc = NewTurnProcessor(h.store, h.llm, h.locker, nil, nil, testLogger())
	return h
}

func (h *harness) history(t *testing.T, loc string) []chat.ChatMessage {
	t.Helper()
	hist, err := h.store.LoadHistory(context.Background(), loc)
	require.NoError(t, err)
	return hist
}

func (h *harness) seed(t *testing.T, loc string, msgs ...chat.ChatMessage) {
	t.Helper()
	require.NoError(t, h.store.SaveHistory(context.Background(), loc, msgs))
}

func conversation(n int) []chat.ChatMessage {
	out := make([]chat.ChatMessage, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = chat.NewMessage(chat.MessageTypeUser, "Stranger", fmt.Sprintf("line %d", i))
		} else {
			out[i] = chat.NewCharacterMessage("old", "Ana", fmt.Sprintf("line %d", i))
		}
	}
	return out
}

func TestRunTurn_CounterBelowThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetTokenCount(ctx, h.hall, roleplay.SummarizationThreshold-1))
	h.llm.QueueResponse(&chat.GenerateResponse{Text: "Evening.", Usage: chat.Usage{InputTokens: 50, OutputTokens: 3}})

	resp, err := h.proc.RunTurn(ctx, "req-1", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.NoError(t, err)

	assert.False(t, resp.Summarized)
	assert.Equal(t, 3049, resp.TokenCount)
	assert.Equal(t, "req-1", resp.RequestID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "Evening.", resp.Messages[0].Text)
	assert.Len(t, h.llm.GetGenerateCalls(), 1, "no summarization call")

	count, err := h.store.GetTokenCount(ctx, h.hall)
	require.NoError(t, err)
	assert.Equal(t, 3049, count)
}

func TestRunTurn_SummarizesWhenDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := conversation(20)
	h.seed(t, h.hall, old...)
	require.NoError(t, h.store.SetTokenCount(ctx, h.hall, roleplay.SummarizationThreshold))

	h.llm.QueueResponse(&chat.GenerateResponse{Text: "They talked for hours.", Usage: chat.Usage{InputTokens: 900, OutputTokens: 80}})
	h.llm.QueueResponse(&chat.GenerateResponse{Text: "So, where were we?", Usage: chat.Usage{InputTokens: 40, OutputTokens: 6}})

	resp, err := h.proc.RunTurn(ctx, "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana, Message: "I'm back"})
	require.NoError(t, err)
	assert.True(t, resp.Summarized)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 40, resp.TokenCount, "counter reset before the turn's usage is added")

	hist := h.history(t, h.hall)
	require.Len(t, hist, 1+roleplay.RecentToKeep+2)
	assert.Equal(t, chat.MessageTypeSummary, hist[0].Type)
	assert.Equal(t, "They talked for hours.", hist[0].Text)
	assert.Equal(t, old[len(old)-roleplay.RecentToKeep:], hist[1:1+roleplay.RecentToKeep])
	assert.Equal(t, chat.MessageTypeUser, hist[len(hist)-2].Type)
	assert.Equal(t, "I'm back", hist[len(hist)-2].Text)
	assert.Equal(t, "So, where were we?", hist[len(hist)-1].Text)

	calls := h.llm.GetGenerateCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, prompts.SummaryInstructions, calls[0].System)
	assert.NotContains(t, calls[0].Prompt, "I'm back", "staged message is not summarized")
	assert.Contains(t, calls[1].Prompt, "Stranger: I'm back")
}

func TestRunTurn_CounterResetsWhenSummarizationSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, h.hall, conversation(4)...)
	require.NoError(t, h.store.SetTokenCount(ctx, h.hall, 5000))

	resp, err := h.proc.RunTurn(ctx, "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.NoError(t, err)
	assert.False(t, resp.Summarized)
	assert.Equal(t, 10, resp.TokenCount)
	assert.Len(t, h.history(t, h.hall), 5)
}

func TestRunTurn_Noop(t *testing.T) {
	tests := []struct {
		name     string
		location func(*harness) string
		char     func(*harness) string
	}{
		{"unknown character", func(h *harness) string { return h.hall }, func(*harness) string { return "nobody" }},
		{"unknown location", func(*harness) string { return "nowhere" }, func(h *harness) string { return h.ana }},
		{"character elsewhere", func(h *harness) string { return h.hall }, func(h *harness) string { return h.bo }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			loc := tt.location(h)
			resp, err := h.proc.RunTurn(context.Background(), "", chat.TurnRequest{
				LocationID:  loc,
				CharacterID: tt.char(h),
				Message:     "hello?",
			})
			require.NoError(t, err)
			assert.Empty(t, resp.Messages)
			assert.Empty(t, h.llm.GetGenerateCalls())
			assert.Empty(t, h.history(t, loc), "staged message is dropped")
		})
	}
}

func TestRunTurn_PlaceholderVisibleDuringGeneration(t *testing.T) {
	h := newHarness(t)
	var during []chat.ChatMessage
	h.llm.GenerateFunc = func(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
		during, _ = h.store.LoadHistory(ctx, h.hall)
		return &chat.GenerateResponse{Text: "Hm."}, nil
	}

	_, err := h.proc.RunTurn(context.Background(), "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.NoError(t, err)

	require.Len(t, during, 1)
	assert.Equal(t, chat.MessageTypeLoading, during[0].Type)
	assert.Equal(t, h.ana, during[0].CharID)

	after := h.history(t, h.hall)
	require.Len(t, after, 1)
	assert.Equal(t, chat.MessageTypeCharacter, after[0].Type)
}

func TestRunTurn_GenerationFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetTokenCount(ctx, h.hall, 100))
	h.llm.QueueError(errors.New("model not found"))

	resp, err := h.proc.RunTurn(ctx, "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.NoError(t, err, "generation failures surface as a message")
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "(model not found)", resp.Messages[0].Text)
	assert.Equal(t, 100, resp.TokenCount)

	commits := h.store.GetCommitCalls()
	require.Len(t, commits, 1)
	assert.Empty(t, commits[0].Deltas)
}

func TestRunTurn_CommitFailureRemovesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.store.SetCommitError(errors.New("disk full"))

	_, err := h.proc.RunTurn(context.Background(), "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.Error(t, err)
	assert.Empty(t, h.history(t, h.hall))
}

func TestRunTurn_OutlivesCallerCancellation(t *testing.T) {
	_, client := newTestRedis(t)
	store := redisstore.NewRedisStorageFromClient(client, testLogger())
	ctx := context.Background()
	var hall, ana string
	_, err := store.UpdateWorld(ctx, func(w *state.World) error {
		loc, err := w.AddLocation(state.Location{Name: "Hall"})
		if err != nil {
			return err
		}
		hall = loc.ID
		c, err := w.AddCharacter(state.Character{Name: "Ana", GroupChatID: hall})
		if err != nil {
			return err
		}
		ana = c.ID
		return nil
	})
	require.NoError(t, err)

	llm := services.NewMockLLMAPI()
	proc := NewTurnProcessor(store, llm, NewLocalLocker(), nil, nil, testLogger())

	callerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	llm.GenerateFunc = func(genCtx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
		cancel()
		assert.NoError(t, genCtx.Err(), "generation does not see the caller's cancellation")
		return nil, context.Canceled
	}

	resp, err := proc.RunTurn(callerCtx, "", chat.TurnRequest{LocationID: hall, CharacterID: ana, Message: "hello"})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)

	hist, err := store.LoadHistory(ctx, hall)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "hello", hist[0].Text)
	assert.Equal(t, chat.MessageTypeCharacter, hist[1].Type)
	assert.Equal(t, ana, hist[1].CharID)
	assert.Equal(t, "(context canceled)", hist[1].Text)
}

func TestRunTurn_GenerationBudget(t *testing.T) {
	h := newHarness(t)
	h.proc.GenerationBudget = 20 * time.Millisecond
	h.llm.GenerateFunc = func(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	resp, err := h.proc.RunTurn(context.Background(), "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)

	hist := h.history(t, h.hall)
	require.Len(t, hist, 1, "placeholder replaced by the error message")
	assert.Equal(t, "(context deadline exceeded)", hist[0].Text)
}

func TestRunTurn_AppliesDeltas(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.llm.QueueResponse(&chat.GenerateResponse{
		Text: "Nice to meet you, Sam. Follow me.",
		ToolCalls: []chat.ToolCall{
			{Name: prompts.ToolSetUserName, Input: []byte(`{"name":"Sam"}`)},
			{Name: prompts.ToolTakeNote, Input: []byte(`{"note":"Sam is new here"}`)},
			{Name: prompts.ToolMoveToLocation, Input: []byte(`{"destination":"Yard"}`)},
		},
	})

	resp, err := h.proc.RunTurn(ctx, "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	require.NoError(t, err)
	assert.Len(t, resp.Messages, 3)

	w, err := h.store.LoadWorld(ctx)
	require.NoError(t, err)
	require.NoError(t, w.CheckIndex())
	ana, _ := w.Character(h.ana)
	assert.Equal(t, h.yard, ana.GroupChatID)
	assert.Equal(t, []string{"Sam is new here"}, ana.Notes)
	hall, _ := w.Location(h.hall)
	assert.NotContains(t, hall.CharacterIDs, h.ana)

	settings, err := h.store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sam", settings.StrangerLabel)

	// The player's next message carries the learned name.
	msg, err := h.proc.PostMessage(ctx, h.yard, chat.PostMessageRequest{Text: "Lead on."})
	require.NoError(t, err)
	assert.Equal(t, "Sam", msg.Sender)
}

func TestRunTurn_RejectsConcurrentTurn(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.llm.GenerateFunc = func(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
		close(entered)
		<-release
		return &chat.GenerateResponse{Text: "Done."}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = h.proc.RunTurn(context.Background(), "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	}()
	<-entered

	_, err := h.proc.RunTurn(context.Background(), "", chat.TurnRequest{LocationID: h.hall, CharacterID: h.ana})
	assert.ErrorIs(t, err, ErrTurnInProgress)
	_, err = h.proc.PostMessage(context.Background(), h.hall, chat.PostMessageRequest{Text: "hey"})
	assert.ErrorIs(t, err, ErrTurnInProgress)

	// Other locations are unaffected.
	_, err = h.proc.PostMessage(context.Background(), h.yard, chat.PostMessageRequest{Text: "hey"})
	assert.NoError(t, err)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Len(t, h.history(t, h.hall), 1)
}

func TestRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1 := chat.NewMessage(chat.MessageTypeUser, "Stranger", "hi")
	c1 := chat.NewCharacterMessage(h.ana, "Ana", "Who goes there?")
	u2 := chat.NewMessage(chat.MessageTypeUser, "Stranger", "a friend")
	c2 := chat.NewCharacterMessage(h.ana, "Ana", "Prove it.")
	h.seed(t, h.hall, u1, c1, u2, c2)
	require.NoError(t, h.store.SetTokenCount(ctx, h.hall, 200))

	n, err := h.proc.RetryPreview(ctx, h.hall, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = h.proc.Retry(ctx, "", h.hall, chat.RetryRequest{MessageID: c1.ID, ConfirmDiscard: 2})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	var confirm *ConfirmationError
	require.ErrorAs(t, err, &confirm)
	assert.Equal(t, 3, confirm.DiscardCount)
	assert.Len(t, h.history(t, h.hall), 4, "unconfirmed retry changes nothing")

	h.llm.QueueResponse(&chat.GenerateResponse{Text: "Welcome, friend.", Usage: chat.Usage{InputTokens: 30}})
	resp, err := h.proc.Retry(ctx, "", h.hall, chat.RetryRequest{MessageID: c1.ID, ConfirmDiscard: 3})
	require.NoError(t, err)
	assert.Equal(t, 230, resp.TokenCount)

	hist := h.history(t, h.hall)
	want := append([]chat.ChatMessage{u1}, resp.Messages...)
	assert.Equal(t, want, hist)
	assert.Contains(t, h.llm.GetGenerateCalls()[0].Prompt, "Stranger: hi")
	assert.NotContains(t, h.llm.GetGenerateCalls()[0].Prompt, "a friend")
}

func TestRetry_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1 := chat.NewMessage(chat.MessageTypeUser, "Stranger", "hi")
	h.seed(t, h.hall, u1)

	_, err := h.proc.RetryPreview(ctx, h.hall, u1.ID)
	assert.ErrorIs(t, err, ErrNotCharacterMessage)
	_, err = h.proc.RetryPreview(ctx, h.hall, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = h.proc.Retry(ctx, "", h.hall, chat.RetryRequest{MessageID: u1.ID, ConfirmDiscard: 1})
	assert.ErrorIs(t, err, ErrNotCharacterMessage)
}

func TestRetry_ResolvesCharacterBySenderName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orphan := chat.NewCharacterMessage("deleted-id", "Ana", "Old line")
	h.seed(t, h.hall, orphan)

	resp, err := h.proc.Retry(ctx, "", h.hall, chat.RetryRequest{MessageID: orphan.ID, ConfirmDiscard: 1})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, h.ana, resp.Messages[0].CharID)

	ghost := chat.NewCharacterMessage("gone", "Nobody", "boo")
	h.seed(t, h.hall, ghost)
	_, err = h.proc.Retry(ctx, "", h.hall, chat.RetryRequest{MessageID: ghost.ID, ConfirmDiscard: 1})
	assert.ErrorIs(t, err, state.ErrCharacterNotFound)
}

func TestRetry_CharacterLeftLocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1 := chat.NewMessage(chat.MessageTypeUser, "Stranger", "hi")
	c1 := chat.NewCharacterMessage(h.bo, "Bo", "I'm off to the yard.")
	h.seed(t, h.hall, u1, c1)

	_, err := h.proc.Retry(ctx, "", h.hall, chat.RetryRequest{MessageID: c1.ID, ConfirmDiscard: 1})
	assert.ErrorIs(t, err, ErrCharacterNotPresent)
	assert.Equal(t, []chat.ChatMessage{u1, c1}, h.history(t, h.hall), "history is not truncated")
	assert.Empty(t, h.llm.GetGenerateCalls())
}

func TestPostMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg, err := h.proc.PostMessage(ctx, h.hall, chat.PostMessageRequest{Text: " hello "})
	require.NoError(t, err)
	assert.Equal(t, chat.MessageTypeUser, msg.Type)
	assert.Equal(t, state.DefaultStrangerLabel, msg.Sender)
	assert.Equal(t, "hello", msg.Text)

	msg, err = h.proc.PostMessage(ctx, h.hall, chat.PostMessageRequest{Type: chat.MessageTypeDirector, Text: "raise the stakes"})
	require.NoError(t, err)
	assert.Equal(t, chat.SenderDirector, msg.Sender)

	_, err = h.store.UpdateSettings(ctx, func(s *state.Settings) error {
		s.ShareProfile = true
		s.Profile.Name = "Alex"
		return nil
	})
	require.NoError(t, err)
	msg, err = h.proc.PostMessage(ctx, h.hall, chat.PostMessageRequest{Text: "it's me"})
	require.NoError(t, err)
	assert.Equal(t, "Alex", msg.Sender)

	assert.Len(t, h.history(t, h.hall), 3)

	_, err = h.proc.PostMessage(ctx, "nowhere", chat.PostMessageRequest{Text: "hi"})
	assert.ErrorIs(t, err, state.ErrLocationNotFound)
	_, err = h.proc.PostMessage(ctx, h.hall, chat.PostMessageRequest{Type: chat.MessageTypeNarration, Text: "x"})
	assert.Error(t, err)
}

func TestPostExposition(t *testing.T) {
	h := newHarness(t)
	msgs, err := h.proc.PostExposition(context.Background(), h.hall)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.MessageTypeExposition, msgs[0].Type)
	assert.Equal(t, "Rain hammers the roof.", msgs[0].Text)
	assert.Equal(t, msgs, h.history(t, h.hall))

	msgs, err = h.proc.PostExposition(context.Background(), h.yard)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, h.hall, conversation(20)...)
	require.NoError(t, h.store.SetTokenCount(ctx, h.hall, 3100))

	view, err := h.proc.Context(ctx, h.hall)
	require.NoError(t, err)
	assert.Equal(t, 3100, view.TokenCount)
	assert.True(t, view.Due)
	assert.Equal(t, 20, view.HistoryLength)
	assert.Len(t, view.Window, prompts.SummaryWindowSize)

	_, err = h.proc.Context(ctx, "nowhere")
	assert.ErrorIs(t, err, state.ErrLocationNotFound)
}

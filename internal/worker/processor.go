package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/troupe/internal/metrics"
	"github.com/jwebster45206/troupe/internal/roleplay"
	"github.com/jwebster45206/troupe/internal/services"
	"github.com/jwebster45206/troupe/internal/services/events"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/prompts"
	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
)

// Turn kinds for metrics.
const (
	KindTurn  = "turn"
	KindRetry = "retry"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotCharacterMessage  = errors.New("only character messages can be retried")
	ErrConfirmationRequired = errors.New("retry must be confirmed with the number of messages it discards")
	ErrCharacterNotPresent  = errors.New("character is no longer in this location")
)

// ConfirmationError carries the discard count a retry must be
// confirmed with. It matches ErrConfirmationRequired.
type ConfirmationError struct {
	DiscardCount int
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("%s (%d)", ErrConfirmationRequired.Error(), e.DiscardCount)
}

func (e *ConfirmationError) Is(target error) bool {
	return target == ErrConfirmationRequired
}

// ContextView is a read-only look at what the next turn will see.
type ContextView struct {
	LocationID    string             `json:"location_id"`
	TokenCount    int                `json:"token_count"`
	Threshold     int                `json:"threshold"`
	Due           bool               `json:"due"`
	HistoryLength int                `json:"history_length"`
	Window        []chat.ChatMessage `json:"window"`
}

// TurnProcessor sequences messages, summarization and character turns
// for each location. It is used by both the HTTP handlers (synchronously)
// and the queue worker (asynchronously).
type TurnProcessor struct {
	storage    storage.Storage
	summarizer *roleplay.Summarizer
	executor   *roleplay.Executor
	locker     Locker
	events     *events.Broadcaster
	metrics    *metrics.Collector
	logger     *slog.Logger

	// GenerationBudget bounds each generation call a turn makes, retries
	// included. Zero leaves generation unbounded.
	GenerationBudget time.Duration
}

// NewTurnProcessor creates a processor. broadcaster and collector may be nil.
func NewTurnProcessor(
	store storage.Storage,
	llm services.LLMService,
	locker Locker,
	broadcaster *events.Broadcaster,
	collector *metrics.Collector,
	logger *slog.Logger,
) *TurnProcessor {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &TurnProcessor{
		storage:    store,
		summarizer: roleplay.NewSummarizer(llm, logger),
		executor:   roleplay.NewExecutor(llm, logger),
		locker:     locker,
		events:     broadcaster,
		metrics:    collector,
		logger:     logger,
	}
}

// Summarizer exposes the summarizer so callers can tune its thresholds.
func (p *TurnProcessor) Summarizer() *roleplay.Summarizer { return p.summarizer }

// PostMessage appends a user or director message to a location.
func (p *TurnProcessor) PostMessage(ctx context.Context, locationID string, req chat.PostMessageRequest) (*chat.ChatMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	unlock, err := p.locker.TryLock(ctx, locationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := p.location(ctx, locationID); err != nil {
		return nil, err
	}

	var msg chat.ChatMessage
	if req.Type == chat.MessageTypeDirector {
		msg = chat.NewMessage(chat.MessageTypeDirector, chat.SenderDirector, strings.TrimSpace(req.Text))
	} else {
		settings, err := p.storage.LoadSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		msg = chat.NewMessage(chat.MessageTypeUser, settings.UserDisplayName(), strings.TrimSpace(req.Text))
	}

	if err := p.storage.AppendMessages(ctx, locationID, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	p.publish(func() error { return p.events.PublishMessagePosted(ctx, locationID, msg) })
	return &msg, nil
}

// PostExposition appends the location's exposition lines as narration
// the characters can see.
func (p *TurnProcessor) PostExposition(ctx context.Context, locationID string) ([]chat.ChatMessage, error) {
	unlock, err := p.locker.TryLock(ctx, locationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loc, err := p.location(ctx, locationID)
	if err != nil {
		return nil, err
	}

	msgs := make([]chat.ChatMessage, 0, len(loc.Exposition))
	for _, line := range loc.Exposition {
		if line = strings.TrimSpace(line); line != "" {
			msgs = append(msgs, chat.NewMessage(chat.MessageTypeExposition, chat.SenderNarrator, line))
		}
	}
	if len(msgs) == 0 {
		return msgs, nil
	}
	if err := p.storage.AppendMessages(ctx, locationID, msgs...); err != nil {
		return nil, fmt.Errorf("failed to append exposition: %w", err)
	}
	for _, m := range msgs {
		p.publish(func() error { return p.events.PublishMessagePosted(ctx, locationID, m) })
	}
	return msgs, nil
}

// RunTurn has one character take a turn, summarizing first when the
// location's token counter is due. An unknown character or location, or
// a character that is not in the location, makes the turn a no-op.
// Once the location lock is held the turn ignores ctx cancellation and
// always finishes with a committed result.
func (p *TurnProcessor) RunTurn(ctx context.Context, requestID string, req chat.TurnRequest) (*chat.TurnResponse, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	start := time.Now()
	locationID := req.LocationID

	unlock, err := p.locker.TryLock(ctx, locationID)
	if err != nil {
		p.metrics.RecordTurn(KindTurn, lockOutcome(err), time.Since(start))
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	world, err := p.storage.LoadWorld(ctx)
	if err != nil {
		return nil, p.fail(ctx, KindTurn, locationID, requestID, start, fmt.Errorf("failed to load world: %w", err))
	}
	settings, err := p.storage.LoadSettings(ctx)
	if err != nil {
		return nil, p.fail(ctx, KindTurn, locationID, requestID, start, fmt.Errorf("failed to load settings: %w", err))
	}

	character, okChar := world.Character(req.CharacterID)
	location, okLoc := world.Location(locationID)
	if !okChar || !okLoc || !location.HasCharacter(character.ID) {
		p.logger.Info("Turn skipped, character not present",
			"request_id", requestID,
			"location_id", locationID,
			"character_id", req.CharacterID)
		p.metrics.RecordTurn(KindTurn, metrics.OutcomeNoop, time.Since(start))
		return &chat.TurnResponse{LocationID: locationID, RequestID: requestID, Messages: []chat.ChatMessage{}}, nil
	}

	var staged *chat.ChatMessage
	if text := strings.TrimSpace(req.Message); text != "" {
		m := chat.NewMessage(chat.MessageTypeUser, settings.UserDisplayName(), text)
		staged = &m
	}

	history, err := p.storage.LoadHistory(ctx, locationID)
	if err != nil {
		return nil, p.fail(ctx, KindTurn, locationID, requestID, start, fmt.Errorf("failed to load history: %w", err))
	}
	counter, err := p.storage.GetTokenCount(ctx, locationID)
	if err != nil {
		return nil, p.fail(ctx, KindTurn, locationID, requestID, start, fmt.Errorf("failed to load token count: %w", err))
	}

	summarized := false
	if p.summarizer.Due(counter) {
		history, summarized, err = p.summarize(ctx, locationID, history, settings)
		if err != nil {
			return nil, p.fail(ctx, KindTurn, locationID, requestID, start, err)
		}
	}

	if staged != nil {
		if err := p.storage.AppendMessages(ctx, locationID, *staged); err != nil {
			return nil, p.fail(ctx, KindTurn, locationID, requestID, start, fmt.Errorf("failed to append message: %w", err))
		}
		history = append(history, *staged)
		p.publish(func() error { return p.events.PublishMessagePosted(ctx, locationID, *staged) })
	}

	resp, err := p.characterTurn(ctx, requestID, KindTurn, start, world, settings, character, location, history, req.Nudge)
	if err != nil {
		return nil, err
	}
	resp.Summarized = summarized
	return resp, nil
}

// summarize runs one summarization pass and resets the counter. The
// counter is reset whatever the outcome so a failing provider is not
// hit again on every turn.
func (p *TurnProcessor) summarize(ctx context.Context, locationID string, history []chat.ChatMessage, settings *state.Settings) ([]chat.ChatMessage, bool, error) {
	genCtx, cancel := p.generationContext(ctx)
	res := p.summarizer.Summarize(genCtx, history, settings)
	cancel()
	p.metrics.RecordSummarization(string(res.Outcome))
	p.metrics.RecordTokens(string(state.PurposeSummarization), res.Usage.InputTokens, res.Usage.OutputTokens)

	compressed := res.Outcome == roleplay.SummaryCompressed
	if compressed {
		if err := p.storage.SaveHistory(ctx, locationID, res.History); err != nil {
			return nil, false, fmt.Errorf("failed to save summarized history: %w", err)
		}
	}
	if err := p.storage.SetTokenCount(ctx, locationID, 0); err != nil {
		return nil, false, fmt.Errorf("failed to reset token count: %w", err)
	}

	p.logger.Info("Summarization pass finished",
		"location_id", locationID,
		"outcome", res.Outcome,
		"history_length", len(res.History))
	p.publish(func() error {
		return p.events.PublishSummarized(ctx, locationID, string(res.Outcome), len(res.History))
	})
	return res.History, compressed, nil
}

// RetryPreview returns how many messages retrying messageID would discard.
func (p *TurnProcessor) RetryPreview(ctx context.Context, locationID, messageID string) (int, error) {
	history, err := p.storage.LoadHistory(ctx, locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load history: %w", err)
	}
	i, err := retryIndex(history, messageID)
	if err != nil {
		return 0, err
	}
	return len(history) - i, nil
}

func retryIndex(history []chat.ChatMessage, messageID string) (int, error) {
	i := chat.IndexOf(history, messageID)
	if i < 0 {
		return -1, ErrMessageNotFound
	}
	if history[i].Type != chat.MessageTypeCharacter {
		return -1, ErrNotCharacterMessage
	}
	return i, nil
}

// Retry discards a character message and everything after it, then has
// the same character take the turn again. req.ConfirmDiscard must equal
// the number of messages discarded; otherwise a *ConfirmationError is
// returned and nothing changes. A character that has since left the
// location cannot be retried there.
func (p *TurnProcessor) Retry(ctx context.Context, requestID, locationID string, req chat.RetryRequest) (*chat.TurnResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	start := time.Now()

	unlock, err := p.locker.TryLock(ctx, locationID)
	if err != nil {
		p.metrics.RecordTurn(KindRetry, lockOutcome(err), time.Since(start))
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	history, err := p.storage.LoadHistory(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	i, err := retryIndex(history, req.MessageID)
	if err != nil {
		return nil, err
	}
	if discard := len(history) - i; req.ConfirmDiscard != discard {
		return nil, &ConfirmationError{DiscardCount: discard}
	}

	world, err := p.storage.LoadWorld(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load world: %w", err)
	}
	settings, err := p.storage.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	location, ok := world.Location(locationID)
	if !ok {
		return nil, state.ErrLocationNotFound
	}
	target := history[i]
	character, ok := world.Character(target.CharID)
	if !ok {
		character, ok = world.CharacterByName(target.Sender)
	}
	if !ok {
		return nil, fmt.Errorf("cannot retry message from %q: %w", target.Sender, state.ErrCharacterNotFound)
	}
	if !location.HasCharacter(character.ID) {
		return nil, fmt.Errorf("cannot retry %s in %s: %w", character.Name, location.Name, ErrCharacterNotPresent)
	}

	truncated := append([]chat.ChatMessage(nil), history[:i]...)
	if err := p.storage.SaveHistory(ctx, locationID, truncated); err != nil {
		return nil, p.fail(ctx, KindRetry, locationID, requestID, start, fmt.Errorf("failed to truncate history: %w", err))
	}
	p.logger.Info("History truncated for retry",
		"request_id", requestID,
		"location_id", locationID,
		"message_id", req.MessageID,
		"discarded", len(history)-i)
	p.publish(func() error {
		return p.events.PublishHistoryTruncated(ctx, locationID, req.MessageID, len(history)-i)
	})

	return p.characterTurn(ctx, requestID, KindRetry, start, world, settings, character, location, truncated, "")
}

// characterTurn appends the loading placeholder, runs the executor and
// commits the result. history is the location history the turn sees.
func (p *TurnProcessor) characterTurn(
	ctx context.Context,
	requestID, kind string,
	start time.Time,
	world *state.World,
	settings *state.Settings,
	character *state.Character,
	location *state.Location,
	history []chat.ChatMessage,
	nudge string,
) (*chat.TurnResponse, error) {
	locationID := location.ID

	loading := chat.NewLoadingMessage(character.ID, character.Name)
	if err := p.storage.AppendMessages(ctx, locationID, loading); err != nil {
		return nil, p.fail(ctx, kind, locationID, requestID, start, fmt.Errorf("failed to append placeholder: %w", err))
	}
	p.publish(func() error {
		return p.events.PublishTurnStarted(ctx, locationID, requestID, character.ID, loading)
	})

	genCtx, cancel := p.generationContext(ctx)
	res := p.executor.Run(genCtx, roleplay.TurnInput{
		Character: character,
		Location:  location,
		World:     world,
		History:   history,
		Settings:  settings,
		Nudge:     nudge,
	})
	cancel()

	commit := &state.TurnCommit{
		LocationID: locationID,
		LoadingID:  loading.ID,
		Messages:   res.Messages,
		Deltas:     res.Deltas,
	}
	if res.Usage != nil {
		commit.InputTokens = res.Usage.InputTokens
		p.metrics.RecordTokens(string(state.PurposeCharacter), res.Usage.InputTokens, res.Usage.OutputTokens)
	}

	newHistory, count, err := p.storage.CommitTurn(ctx, commit)
	if err != nil {
		p.removePlaceholder(ctx, locationID, loading.ID)
		return nil, p.fail(ctx, kind, locationID, requestID, start, err)
	}

	outcome := metrics.OutcomeOK
	if res.Err != nil {
		outcome = metrics.OutcomeError
	}
	p.metrics.RecordTurn(kind, outcome, time.Since(start))
	p.logger.Info("Character turn committed",
		"request_id", requestID,
		"location_id", locationID,
		"character_id", character.ID,
		"kind", kind,
		"messages", len(res.Messages),
		"deltas", len(res.Deltas),
		"token_count", count,
		"duration_ms", time.Since(start).Milliseconds())
	p.publish(func() error {
		return p.events.PublishTurnCompleted(ctx, locationID, requestID, res.Messages, count)
	})

	return &chat.TurnResponse{
		LocationID:  locationID,
		RequestID:   requestID,
		Messages:    res.Messages,
		TokenCount:  count,
		ChatHistory: newHistory,
	}, nil
}

// Context reports the counter and the window a summarization pass
// would start from.
func (p *TurnProcessor) Context(ctx context.Context, locationID string) (*ContextView, error) {
	if _, err := p.location(ctx, locationID); err != nil {
		return nil, err
	}
	history, err := p.storage.LoadHistory(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	count, err := p.storage.GetTokenCount(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token count: %w", err)
	}
	return &ContextView{
		LocationID:    locationID,
		TokenCount:    count,
		Threshold:     p.summarizer.Threshold,
		Due:           p.summarizer.Due(count),
		HistoryLength: len(history),
		Window:        prompts.Window(history, prompts.SummaryWindowSize),
	}, nil
}

// generationContext bounds one generation call by GenerationBudget.
func (p *TurnProcessor) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.GenerationBudget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.GenerationBudget)
}

func (p *TurnProcessor) location(ctx context.Context, locationID string) (*state.Location, error) {
	world, err := p.storage.LoadWorld(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load world: %w", err)
	}
	loc, ok := world.Location(locationID)
	if !ok {
		return nil, state.ErrLocationNotFound
	}
	return loc, nil
}

// removePlaceholder drops a loading message left behind by a failed commit.
func (p *TurnProcessor) removePlaceholder(ctx context.Context, locationID, loadingID string) {
	ctx = context.WithoutCancel(ctx)
	history, err := p.storage.LoadHistory(ctx, locationID)
	if err != nil {
		p.logger.Error("Failed to load history for placeholder cleanup", "error", err, "location_id", locationID)
		return
	}
	i := chat.IndexOf(history, loadingID)
	if i < 0 {
		return
	}
	history = append(history[:i:i], history[i+1:]...)
	if err := p.storage.SaveHistory(ctx, locationID, history); err != nil {
		p.logger.Error("Failed to remove loading placeholder", "error", err, "location_id", locationID)
	}
}

func (p *TurnProcessor) fail(ctx context.Context, kind, locationID, requestID string, start time.Time, err error) error {
	p.metrics.RecordTurn(kind, metrics.OutcomeFailed, time.Since(start))
	p.logger.Error("Turn failed",
		"error", err,
		"request_id", requestID,
		"location_id", locationID,
		"kind", kind)
	p.publish(func() error { return p.events.PublishTurnFailed(ctx, locationID, requestID, err.Error()) })
	return err
}

// publish runs an event publish, logging instead of failing the caller.
func (p *TurnProcessor) publish(fn func() error) {
	if err := fn(); err != nil {
		p.logger.Warn("Failed to publish event", "error", err)
	}
}

func lockOutcome(err error) string {
	if errors.Is(err, ErrTurnInProgress) {
		return metrics.OutcomeBusy
	}
	return metrics.OutcomeFailed
}

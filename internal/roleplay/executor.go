package roleplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/troupe/internal/services"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/prompts"
	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/textfilter"
)

// TurnInput is everything a character turn reads. History is the full
// location history; the executor applies the turn window itself.
type TurnInput struct {
	Character *state.Character
	Location  *state.Location
	World     *state.World
	History   []chat.ChatMessage
	Settings  *state.Settings
	Nudge     string
}

// TurnResult is what one character turn produces. On failure Messages
// holds a single error message, Deltas is empty and Usage is nil.
type TurnResult struct {
	Messages []chat.ChatMessage
	Deltas   []state.Delta
	Usage    *chat.Usage
	Err      error
}

// Executor runs a single character turn against the generation service.
type Executor struct {
	llm        services.LLMService
	filter     *textfilter.ResponseFilter
	logger     *slog.Logger
	WindowSize int
}

func NewExecutor(llm services.LLMService, logger *slog.Logger) *Executor {
	return &Executor{
		llm:        llm,
		filter:     textfilter.NewResponseFilter(),
		logger:     logger,
		WindowSize: prompts.TurnWindowSize,
	}
}

// Run executes the turn. It never returns a Go error; failures are
// reported as an in-character message with Err set.
func (e *Executor) Run(ctx context.Context, in TurnInput) *TurnResult {
	resp, err := e.generate(ctx, in)
	if err != nil {
		return e.failure(in.Character, err)
	}

	r := newReducer(in, e.filter)
	for _, call := range resp.ToolCalls {
		r.toolCall(call)
	}
	r.dialogue(resp.Text)
	r.finish(resp.Reasoning)

	usage := resp.Usage
	return &TurnResult{Messages: r.messages(), Deltas: r.deltas(), Usage: &usage}
}

func (e *Executor) generate(ctx context.Context, in TurnInput) (*chat.GenerateResponse, error) {
	if in.Character == nil {
		return nil, errors.New("character is required")
	}
	settings := in.Settings
	if settings == nil {
		settings = state.NewSettings()
	}

	system, err := prompts.New().
		WithCharacter(in.Character).
		WithLocation(in.Location).
		WithWorld(in.World).
		WithSettings(settings).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build persona: %w", err)
	}
	window := prompts.Window(in.History, e.WindowSize)
	prompt := prompts.CatchUp(window, in.Character.Name, in.Nudge)

	resp, err := e.llm.Generate(ctx, &chat.GenerateRequest{
		Model:  settings.ModelFor(state.PurposeCharacter),
		System: system,
		Prompt: prompt,
		Tools:  Tools(),
		Params: chat.SamplingParams{
			Temperature: settings.Temperature,
			TopK:        settings.TopK,
			TopP:        settings.TopP,
			MaxTokens:   settings.MaxTokens,
		},
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Character turn generated",
		"character", in.Character.Name,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (e *Executor) failure(c *state.Character, err error) *TurnResult {
	text := "(" + err.Error() + ")"
	var msg chat.ChatMessage
	if c != nil {
		msg = chat.NewCharacterMessage(c.ID, c.Name, text)
		e.logger.Error("Character turn failed", "character", c.Name, "error", err)
	} else {
		msg = chat.NewMessage(chat.MessageTypeCharacter, chat.SenderNarrator, text)
		e.logger.Error("Character turn failed", "error", err)
	}
	return &TurnResult{Messages: []chat.ChatMessage{msg}, Err: err}
}

// reducer folds a model response into messages and deltas. Tool calls
// are handled in invocation order; dialogue is shown ahead of tool
// messages.
type reducer struct {
	in     TurnInput
	filter *textfilter.ResponseFilter

	// current is the character's location as of the calls seen so far
	current string

	speech []chat.ChatMessage
	effect []chat.ChatMessage
	staged []state.Delta
	label  string
	noted  bool
}

func newReducer(in TurnInput, filter *textfilter.ResponseFilter) *reducer {
	return &reducer{in: in, filter: filter, current: in.Character.GroupChatID}
}

func (r *reducer) name() string { return r.in.Character.Name }

func (r *reducer) toolCall(call chat.ToolCall) {
	switch call.Name {
	case prompts.ToolTakeNote:
		var in noteInput
		if !decodeInput(call, &in) {
			return
		}
		r.takeNote(strings.TrimSpace(in.Note))
	case prompts.ToolMoveToLocation:
		var in moveInput
		if !decodeInput(call, &in) {
			return
		}
		r.move(strings.TrimSpace(in.Destination))
	case prompts.ToolSetUserName:
		var in nameInput
		if !decodeInput(call, &in) {
			return
		}
		r.setUserName(strings.TrimSpace(in.Name))
	}
}

func (r *reducer) takeNote(note string) {
	if note == "" {
		return
	}
	c := r.in.Character
	r.staged = append(r.staged, state.NoteDelta(c.ID, note))
	r.effect = append(r.effect, chat.NewCharacterMessage(c.ID, c.Name, fmt.Sprintf("%s noted: *%s*", c.Name, note)))
	r.noted = true
}

func (r *reducer) move(destination string) {
	c := r.in.Character
	dest, ok := r.in.World.LocationByName(destination)
	switch {
	case !ok:
		r.narrate(fmt.Sprintf("*%s tried to go to %s, but there is no such place.*", c.Name, destination))
	case dest.ID == r.current:
		r.narrate(fmt.Sprintf("*%s is already at %s.*", c.Name, dest.Name))
	default:
		r.staged = append(r.staged,
			state.RelocateDelta(c.ID, dest.ID),
			state.MembershipDelta(r.current, nil, []string{c.ID}),
			state.MembershipDelta(dest.ID, []string{c.ID}, nil),
		)
		r.current = dest.ID
		r.narrate(fmt.Sprintf("*%s moved to %s.*", c.Name, dest.Name))
	}
}

func (r *reducer) setUserName(name string) {
	if name == "" {
		return
	}
	if r.in.Settings != nil && r.in.Settings.ProfileShared() {
		return
	}
	r.label = name
}

func (r *reducer) narrate(text string) {
	r.effect = append(r.effect, chat.NewMessage(chat.MessageTypeNarration, chat.SenderNarrator, text))
}

func (r *reducer) dialogue(text string) {
	text = r.filter.Clean(r.name(), text)
	if text == "" {
		return
	}
	c := r.in.Character
	r.speech = append(r.speech, chat.NewCharacterMessage(c.ID, c.Name, text))
}

// finish adds the thinking fallback when the turn would otherwise be
// invisible, unless it was a reasoning-only turn.
func (r *reducer) finish(reasoning string) {
	if len(r.speech) > 0 || len(r.effect) > 0 || r.noted {
		return
	}
	if strings.TrimSpace(reasoning) != "" {
		return
	}
	c := r.in.Character
	r.speech = append(r.speech, chat.NewCharacterMessage(c.ID, c.Name, fmt.Sprintf("*%s is thinking...*", c.Name)))
}

func (r *reducer) messages() []chat.ChatMessage {
	out := make([]chat.ChatMessage, 0, len(r.speech)+len(r.effect))
	out = append(out, r.speech...)
	return append(out, r.effect...)
}

func (r *reducer) deltas() []state.Delta {
	out := append([]state.Delta(nil), r.staged...)
	if r.label != "" {
		out = append(out, state.LabelDelta(r.label))
	}
	return out
}

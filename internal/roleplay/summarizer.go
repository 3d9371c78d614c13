// Package roleplay holds the generation-backed parts of a turn: history
// summarization and the character turn executor.
package roleplay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jwebster45206/troupe/internal/services"
	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/prompts"
	"github.com/jwebster45206/troupe/pkg/state"
)

// Summarization defaults.
const (
	SummarizationThreshold = 3000
	RecentToKeep           = 5
	MinCandidates          = 5

	summaryMaxTokens = 1024
)

// SummaryOutcome reports what a summarization pass did.
type SummaryOutcome string

const (
	SummaryCompressed SummaryOutcome = "compressed"
	SummarySkipped    SummaryOutcome = "skipped" // too few candidates
	SummaryFailed     SummaryOutcome = "failed"  // generation failed, history untouched
)

// SummaryResult is the history after a summarization pass. History is
// the input unchanged unless Outcome is SummaryCompressed.
type SummaryResult struct {
	History []chat.ChatMessage
	Outcome SummaryOutcome
	Usage   chat.Usage
	Err     error
}

// Summarizer compresses older history into a single summary message.
type Summarizer struct {
	llm           services.LLMService
	logger        *slog.Logger
	Threshold     int
	RecentToKeep  int
	MinCandidates int
}

func NewSummarizer(llm services.LLMService, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		llm:           llm,
		logger:        logger,
		Threshold:     SummarizationThreshold,
		RecentToKeep:  RecentToKeep,
		MinCandidates: MinCandidates,
	}
}

// Due reports whether a location's token counter calls for summarization.
func (s *Summarizer) Due(counter int) bool {
	return counter >= s.Threshold
}

// partition splits history into prior summaries, loading placeholders
// and substantive messages, each in original order.
func partition(history []chat.ChatMessage) (summaries, loading, substantive []chat.ChatMessage) {
	for _, m := range history {
		switch m.Type {
		case chat.MessageTypeSummary:
			summaries = append(summaries, m)
		case chat.MessageTypeLoading:
			loading = append(loading, m)
		default:
			substantive = append(substantive, m)
		}
	}
	return summaries, loading, substantive
}

// Summarize replaces everything but the most recent substantive
// messages with one summary. It never returns an error: on failure the
// original history comes back with Outcome SummaryFailed.
func (s *Summarizer) Summarize(ctx context.Context, history []chat.ChatMessage, settings *state.Settings) SummaryResult {
	summaries, loading, substantive := partition(history)

	keep := s.RecentToKeep
	if keep > len(substantive) {
		keep = len(substantive)
	}
	candidates := substantive[:len(substantive)-keep]
	recent := substantive[len(substantive)-keep:]
	if len(candidates) < s.MinCandidates {
		return SummaryResult{History: history, Outcome: SummarySkipped}
	}

	model := ""
	if settings != nil {
		model = settings.ModelFor(state.PurposeSummarization)
	}
	resp, err := s.llm.Generate(ctx, &chat.GenerateRequest{
		Model:  model,
		System: prompts.SummaryInstructions,
		Prompt: prompts.SummaryPrompt(summaries, candidates),
		Params: chat.SamplingParams{MaxTokens: summaryMaxTokens},
	})
	if err != nil {
		s.logger.Warn("Summarization failed, keeping full history", "error", err, "candidates", len(candidates))
		return SummaryResult{History: history, Outcome: SummaryFailed, Err: err}
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		s.logger.Warn("Summarization returned no text, keeping full history")
		return SummaryResult{History: history, Outcome: SummaryFailed, Usage: resp.Usage}
	}

	out := make([]chat.ChatMessage, 0, 1+len(recent)+len(loading))
	out = append(out, chat.NewMessage(chat.MessageTypeSummary, chat.SenderSummary, text))
	out = append(out, recent...)
	out = append(out, loading...)

	s.logger.Info("History summarized",
		"compressed", len(candidates),
		"previous_summaries", len(summaries),
		"kept", len(recent))
	return SummaryResult{History: out, Outcome: SummaryCompressed, Usage: resp.Usage}
}

package prompts

import (
	"strings"

	"github.com/jwebster45206/troupe/pkg/chat"
)

// SummaryLine renders one message for the summarization transcript.
func SummaryLine(m chat.ChatMessage) string {
	prefix := ""
	if m.Type == chat.MessageTypeDirector {
		prefix = "[Director] "
	}
	return prefix + m.Sender + ": " + m.Text
}

// SummaryPrompt builds the user prompt for a summarization call.
// Earlier summaries are carried forward as a previous-summary block.
func SummaryPrompt(previous []chat.ChatMessage, candidates []chat.ChatMessage) string {
	var sb strings.Builder
	if len(previous) > 0 {
		sb.WriteString(PreviousSummaryHeader + "\n")
		for i, s := range previous {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(strings.TrimSpace(s.Text))
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString(TranscriptHeader + "\n")
	for i, m := range candidates {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(SummaryLine(m))
	}
	return sb.String()
}

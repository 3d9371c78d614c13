package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/troupe/pkg/chat"
)

// Window returns every summary message in original order followed by
// the last n non-summary messages. Loading placeholders are dropped.
func Window(history []chat.ChatMessage, n int) []chat.ChatMessage {
	var summaries, recent []chat.ChatMessage
	for _, m := range history {
		switch m.Type {
		case chat.MessageTypeLoading:
		case chat.MessageTypeSummary:
			summaries = append(summaries, m)
		default:
			recent = append(recent, m)
		}
	}
	if n < 0 {
		n = 0
	}
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	out := make([]chat.ChatMessage, 0, len(summaries)+len(recent))
	out = append(out, summaries...)
	return append(out, recent...)
}

// SinceLastTurn returns the messages after the character's most recent
// message, or all of window if the character has not spoken.
func SinceLastTurn(window []chat.ChatMessage, characterName string) []chat.ChatMessage {
	for i := len(window) - 1; i >= 0; i-- {
		m := window[i]
		if m.Type == chat.MessageTypeCharacter && m.Sender == characterName {
			return window[i+1:]
		}
	}
	return window
}

// CatchUp builds the prompt text for a character's turn from a
// windowed history: what happened since the character last spoke,
// an optional private nudge, and a reminder to answer the human when
// the human spoke last. The result is never empty.
func CatchUp(window []chat.ChatMessage, characterName, nudge string) string {
	slice := SinceLastTurn(window, characterName)

	var lines []string
	var lastSpeaker *chat.ChatMessage
	for i := range slice {
		m := slice[i]
		if m.Type == chat.MessageTypeLoading || m.Type == chat.MessageTypeNarration {
			continue
		}
		lines = append(lines, m.Transcript())
		if m.Type != chat.MessageTypeDirector {
			lastSpeaker = &slice[i]
		}
	}
	body := strings.Join(lines, "\n")

	var sb strings.Builder
	nudge = strings.TrimSpace(nudge)
	if nudge != "" {
		sb.WriteString(fmt.Sprintf(NudgeDirective, nudge))
		if body != "" {
			sb.WriteString("\n\n")
		}
	}
	if body == "" && nudge == "" {
		sb.WriteString(InitiativeDirective)
	} else {
		sb.WriteString(body)
	}

	if lastSpeaker != nil && lastSpeaker.Type == chat.MessageTypeUser {
		sb.WriteString("\n\n")
		sb.WriteString(fmt.Sprintf(RespondToUserDirective, lastSpeaker.Sender, lastSpeaker.Sender))
	}
	return sb.String()
}

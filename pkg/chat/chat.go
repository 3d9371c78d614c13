package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MessageType identifies who (or what) produced a chat message.
type MessageType string

const (
	MessageTypeUser       MessageType = "user"       // human player
	MessageTypeCharacter  MessageType = "character"  // AI character dialogue, notes, errors
	MessageTypeExposition MessageType = "exposition" // static scene-setting text
	MessageTypeNarration  MessageType = "narration"  // narrator output, e.g. movement
	MessageTypeDirector   MessageType = "director"   // out-of-character guidance
	MessageTypeLoading    MessageType = "loading"    // transient placeholder
	MessageTypeSummary    MessageType = "summary"    // compressed history
)

const (
	SenderNarrator = "Narrator"
	SenderDirector = "Director"
	SenderSummary  = "Summary"
)

// ChatMessage is a single entry in a location's history.
// Sender is a display name, not an id. CharID is a weak reference
// and may point to a character that no longer exists.
type ChatMessage struct {
	ID     string      `json:"id"`
	Type   MessageType `json:"type"`
	Sender string      `json:"sender"`
	Text   string      `json:"text"`
	CharID string      `json:"charId,omitempty"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(msgType MessageType, sender, text string) ChatMessage {
	return ChatMessage{
		ID:     uuid.New().String(),
		Type:   msgType,
		Sender: sender,
		Text:   text,
	}
}

// NewCharacterMessage creates a character-authored message.
func NewCharacterMessage(charID, name, text string) ChatMessage {
	m := NewMessage(MessageTypeCharacter, name, text)
	m.CharID = charID
	return m
}

// NewLoadingMessage creates the placeholder shown while a character is generating.
func NewLoadingMessage(charID, name string) ChatMessage {
	m := NewMessage(MessageTypeLoading, name, "")
	m.CharID = charID
	return m
}

// IsSubstantive reports whether the message is real conversation content
// (anything other than a summary or a loading placeholder).
func (m ChatMessage) IsSubstantive() bool {
	return m.Type != MessageTypeSummary && m.Type != MessageTypeLoading
}

// Transcript renders the message as a single "{sender}: {text}" line.
// Director entries are rendered with a "[Director]" sender.
func (m ChatMessage) Transcript() string {
	if m.Type == MessageTypeDirector {
		return "[Director]: " + m.Text
	}
	return m.Sender + ": " + m.Text
}

// WithoutLoading returns a copy of history with loading placeholders removed.
func WithoutLoading(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Type != MessageTypeLoading {
			out = append(out, m)
		}
	}
	return out
}

// IndexOf returns the position of the message with the given id, or -1.
func IndexOf(history []ChatMessage, id string) int {
	for i, m := range history {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// PostMessageRequest is a user or director message posted to a location.
type PostMessageRequest struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

func (r *PostMessageRequest) Validate() error {
	if r.Type == "" {
		r.Type = MessageTypeUser
	}
	if r.Type != MessageTypeUser && r.Type != MessageTypeDirector {
		return fmt.Errorf("type must be %q or %q", MessageTypeUser, MessageTypeDirector)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text cannot be empty")
	}
	return nil
}

// TurnRequest asks a character to take a turn, optionally after the
// user says something and optionally with a private director nudge.
type TurnRequest struct {
	LocationID  string `json:"location_id,omitempty"`
	CharacterID string `json:"character_id"`
	Message     string `json:"message,omitempty"`
	Nudge       string `json:"nudge,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

func (r *TurnRequest) Validate() error {
	if r.CharacterID == "" {
		return fmt.Errorf("character_id is required")
	}
	return nil
}

// RetryRequest regenerates a character message. ConfirmDiscard must
// equal the number of messages the retry will remove.
type RetryRequest struct {
	MessageID      string `json:"message_id"`
	ConfirmDiscard int    `json:"confirm_discard"`
	Async          bool   `json:"async,omitempty"`
}

func (r *RetryRequest) Validate() error {
	if r.MessageID == "" {
		return fmt.Errorf("message_id is required")
	}
	return nil
}

// TurnResponse is returned after a turn or retry completes.
type TurnResponse struct {
	LocationID  string        `json:"location_id"`
	Messages    []ChatMessage `json:"messages"`
	Summarized  bool          `json:"summarized,omitempty"`
	TokenCount  int           `json:"token_count"`
	RequestID   string        `json:"request_id,omitempty"`
	Queued      bool          `json:"queued,omitempty"`
	ChatHistory []ChatMessage `json:"chat_history,omitempty"`
}

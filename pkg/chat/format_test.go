package chat

import (
	"testing"
)

func TestTranscript(t *testing.T) {
	tests := []struct {
		name     string
		message  ChatMessage
		expected string
	}{
		{
			name:     "user message",
			message:  ChatMessage{Type: MessageTypeUser, Sender: "Stranger", Text: "Hello there."},
			expected: "Stranger: Hello there.",
		},
		{
			name:     "character message",
			message:  ChatMessage{Type: MessageTypeCharacter, Sender: "Mira", Text: "*waves* \"Hi!\""},
			expected: "Mira: *waves* \"Hi!\"",
		},
		{
			name:     "director message",
			message:  ChatMessage{Type: MessageTypeDirector, Sender: SenderDirector, Text: "Start a storm."},
			expected: "[Director]: Start a storm.",
		},
		{
			name:     "empty text",
			message:  ChatMessage{Type: MessageTypeUser, Sender: "Ann", Text: ""},
			expected: "Ann: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.message.Transcript(); got != tt.expected {
				t.Errorf("Transcript() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewCharacterMessage(t *testing.T) {
	a := NewCharacterMessage("c1", "Mira", "hi")
	b := NewCharacterMessage("c1", "Mira", "hi")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.Type != MessageTypeCharacter {
		t.Errorf("expected character type, got %s", a.Type)
	}
	if a.CharID != "c1" {
		t.Errorf("expected charId c1, got %s", a.CharID)
	}
}

func TestWithoutLoadingAndIndexOf(t *testing.T) {
	history := []ChatMessage{
		{ID: "1", Type: MessageTypeUser},
		{ID: "2", Type: MessageTypeLoading},
		{ID: "3", Type: MessageTypeCharacter},
	}

	filtered := WithoutLoading(history)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(filtered))
	}
	if filtered[1].ID != "3" {
		t.Errorf("expected message 3 to be kept, got %s", filtered[1].ID)
	}

	if IndexOf(history, "3") != 2 {
		t.Errorf("expected index 2, got %d", IndexOf(history, "3"))
	}
	if IndexOf(history, "missing") != -1 {
		t.Errorf("expected -1 for missing id")
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{ Validate() error }
		wantErr bool
	}{
		{"user message", &PostMessageRequest{Text: "hi"}, false},
		{"director message", &PostMessageRequest{Type: MessageTypeDirector, Text: "go"}, false},
		{"blank message", &PostMessageRequest{Text: "   "}, true},
		{"character type rejected", &PostMessageRequest{Type: MessageTypeCharacter, Text: "x"}, true},
		{"turn with character", &TurnRequest{CharacterID: "c1"}, false},
		{"turn without character", &TurnRequest{}, true},
		{"retry with id", &RetryRequest{MessageID: "m1"}, false},
		{"retry without id", &RetryRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestType identifies the type of request in the queue
type RequestType string

const (
	// RequestTypeTurn asks a character to take a turn
	RequestTypeTurn RequestType = "turn"

	// RequestTypeRetry regenerates a character message
	RequestTypeRetry RequestType = "retry"
)

// Request is a queued character turn or retry for one location.
type Request struct {
	RequestID   string      `json:"request_id"`
	Type        RequestType `json:"type"`
	LocationID  string      `json:"location_id"`
	CharacterID string      `json:"character_id,omitempty"`

	// Turn-specific fields
	Message string `json:"message,omitempty"`
	Nudge   string `json:"nudge,omitempty"`

	// Retry-specific fields
	MessageID      string `json:"message_id,omitempty"`
	ConfirmDiscard int    `json:"confirm_discard,omitempty"`

	// Attempts counts how many times the request was re-queued
	// because its location was busy.
	Attempts int `json:"attempts,omitempty"`

	// Seq orders requests within a location. It is assigned on first
	// enqueue and kept across re-queues.
	Seq int64 `json:"seq,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Validate checks the fields required by the request type.
func (r *Request) Validate() error {
	if r.LocationID == "" {
		return fmt.Errorf("location_id is required")
	}
	switch r.Type {
	case RequestTypeTurn:
		if r.CharacterID == "" {
			return fmt.Errorf("character_id is required for turn requests")
		}
	case RequestTypeRetry:
		if r.MessageID == "" {
			return fmt.Errorf("message_id is required for retry requests")
		}
	default:
		return fmt.Errorf("unknown request type: %q", r.Type)
	}
	return nil
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

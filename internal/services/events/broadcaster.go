package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeRequestQueued    EventType = "request.queued"
	EventTypeTurnStarted      EventType = "turn.started"
	EventTypeTurnCompleted    EventType = "turn.completed"
	EventTypeTurnFailed       EventType = "turn.failed"
	EventTypeSummarized       EventType = "location.summarized"
	EventTypeMessagePosted    EventType = "message.posted"
	EventTypeHistoryTruncated EventType = "history.truncated"
)

// Event represents a generic event structure
type Event struct {
	Type       EventType      `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	LocationID string         `json:"location_id"`
	Time       time.Time      `json:"time"`
	Data       map[string]any `json:"data,omitempty"`
}

// Channel is the pub/sub channel for a location's events.
func Channel(locationID string) string {
	return "location-events:" + locationID
}

// Broadcaster publishes events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Subscribe returns a subscription to one location's channel. The
// caller must close it.
func (b *Broadcaster) Subscribe(ctx context.Context, locationID string) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(locationID))
}

// PublishRequestQueued publishes a request.queued event
func (b *Broadcaster) PublishRequestQueued(ctx context.Context, locationID, requestID, requestType string) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeRequestQueued,
		RequestID:  requestID,
		LocationID: locationID,
		Data:       map[string]any{"status": "queued", "type": requestType},
	})
}

// PublishTurnStarted publishes a turn.started event with the loading
// placeholder so clients can render it immediately.
func (b *Broadcaster) PublishTurnStarted(ctx context.Context, locationID, requestID, characterID string, loading any) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeTurnStarted,
		RequestID:  requestID,
		LocationID: locationID,
		Data:       map[string]any{"character_id": characterID, "message": loading},
	})
}

// PublishTurnCompleted publishes a turn.completed event
func (b *Broadcaster) PublishTurnCompleted(ctx context.Context, locationID, requestID string, messages any, tokenCount int) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeTurnCompleted,
		RequestID:  requestID,
		LocationID: locationID,
		Data:       map[string]any{"messages": messages, "token_count": tokenCount},
	})
}

// PublishTurnFailed publishes a turn.failed event
func (b *Broadcaster) PublishTurnFailed(ctx context.Context, locationID, requestID, errorMsg string) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeTurnFailed,
		RequestID:  requestID,
		LocationID: locationID,
		Data:       map[string]any{"error": errorMsg},
	})
}

// PublishSummarized publishes a location.summarized event
func (b *Broadcaster) PublishSummarized(ctx context.Context, locationID, outcome string, historyLen int) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeSummarized,
		LocationID: locationID,
		Data:       map[string]any{"outcome": outcome, "history_length": historyLen},
	})
}

// PublishMessagePosted publishes a message.posted event
func (b *Broadcaster) PublishMessagePosted(ctx context.Context, locationID string, message any) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeMessagePosted,
		LocationID: locationID,
		Data:       map[string]any{"message": message},
	})
}

// PublishHistoryTruncated publishes a history.truncated event
func (b *Broadcaster) PublishHistoryTruncated(ctx context.Context, locationID, fromMessageID string, discarded int) error {
	return b.Publish(ctx, Event{
		Type:       EventTypeHistoryTruncated,
		LocationID: locationID,
		Data:       map[string]any{"from_message_id": fromMessageID, "discarded": discarded},
	})
}

// Publish sends an event to its location channel. A nil broadcaster
// drops events.
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	channel := Channel(event.LocationID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)
	return nil
}

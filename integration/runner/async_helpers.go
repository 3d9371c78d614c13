package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
)

const (
	// PollInterval is how often to check history for updates
	PollInterval = 1 * time.Second
	// TurnTimeout is max time to wait for a queued turn to land in history
	TurnTimeout = 60 * time.Second
)

// doJSON sends body as JSON and decodes a response with the wanted status into out.
func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s returned %d (expected %d): %s", method, url, resp.StatusCode, want, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

func chatURL(baseURL, locationID, action string) string {
	return fmt.Sprintf("%s/v1/chat/%s/%s", baseURL, url.PathEscape(locationID), action)
}

// ImportWorld posts a world file to the import endpoint
func ImportWorld(ctx context.Context, client *http.Client, baseURL string, world *state.WorldExport) (*state.ImportReport, error) {
	var report state.ImportReport
	if err := doJSON(ctx, client, http.MethodPost, baseURL+"/v1/world/import", world, &report, http.StatusOK); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListLocations retrieves every location
func ListLocations(ctx context.Context, client *http.Client, baseURL string) ([]state.Location, error) {
	var out []state.Location
	err := doJSON(ctx, client, http.MethodGet, baseURL+"/v1/locations", nil, &out, http.StatusOK)
	return out, err
}

// ListCharacters retrieves every character
func ListCharacters(ctx context.Context, client *http.Client, baseURL string) ([]state.Character, error) {
	var out []state.Character
	err := doJSON(ctx, client, http.MethodGet, baseURL+"/v1/characters", nil, &out, http.StatusOK)
	return out, err
}

// GetHistory retrieves a location's chat history
func GetHistory(ctx context.Context, client *http.Client, baseURL, locationID string) ([]chat.ChatMessage, error) {
	var out []chat.ChatMessage
	err := doJSON(ctx, client, http.MethodGet, chatURL(baseURL, locationID, "messages"), nil, &out, http.StatusOK)
	return out, err
}

// PostMessage posts a user or director message
func PostMessage(ctx context.Context, client *http.Client, baseURL, locationID string, msgType chat.MessageType, text string) error {
	req := chat.PostMessageRequest{Type: msgType, Text: text}
	return doJSON(ctx, client, http.MethodPost, chatURL(baseURL, locationID, "messages"), req, nil, http.StatusCreated)
}

// PostExposition posts the location's exposition lines
func PostExposition(ctx context.Context, client *http.Client, baseURL, locationID string) ([]chat.ChatMessage, error) {
	var out []chat.ChatMessage
	err := doJSON(ctx, client, http.MethodPost, chatURL(baseURL, locationID, "exposition"), nil, &out, http.StatusCreated)
	return out, err
}

// PostTurn runs a character turn. Async turns return once queued.
func PostTurn(ctx context.Context, client *http.Client, baseURL, locationID string, req chat.TurnRequest) (*chat.TurnResponse, error) {
	want := http.StatusOK
	if req.Async {
		want = http.StatusAccepted
	}
	var out chat.TurnResponse
	if err := doJSON(ctx, client, http.MethodPost, chatURL(baseURL, locationID, "turn"), req, &out, want); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollForTurn polls history until the character has a message not in
// seen and no loading placeholder remains. It returns the character's
// new messages.
func PollForTurn(ctx context.Context, client *http.Client, baseURL, locationID, characterID string, seen map[string]bool) ([]chat.ChatMessage, error) {
	timeout := time.After(TurnTimeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("timeout waiting for turn to complete (waited %v)", TurnTimeout)
		case <-ticker.C:
			history, err := GetHistory(ctx, client, baseURL, locationID)
			if err != nil {
				// Keep polling
				continue
			}
			if msgs, done := turnMessages(history, characterID, seen); done {
				return msgs, nil
			}
		}
	}
}

// turnMessages returns the character's unseen messages once the turn
// has settled. Ids are compared rather than lengths because a
// summarization run shrinks history.
func turnMessages(history []chat.ChatMessage, characterID string, seen map[string]bool) ([]chat.ChatMessage, bool) {
	for _, m := range history {
		if m.Type == chat.MessageTypeLoading {
			return nil, false
		}
	}
	var out []chat.ChatMessage
	for _, m := range history {
		if !seen[m.ID] && m.CharID == characterID && m.Type == chat.MessageTypeCharacter {
			out = append(out, m)
		}
	}
	return out, len(out) > 0
}

// MessageIDs returns the set of ids in history.
func MessageIDs(history []chat.ChatMessage) map[string]bool {
	ids := make(map[string]bool, len(history))
	for _, m := range history {
		ids[m.ID] = true
	}
	return ids
}

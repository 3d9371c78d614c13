package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
)

// ErrorResponse mirrors the API's error body.
type ErrorResponse struct {
	Error        string `json:"error"`
	DiscardCount *int   `json:"discard_count,omitempty"`
}

// confirmError is returned when a retry needs the discard count confirmed.
type confirmError struct {
	discardCount int
}

func (e *confirmError) Error() string {
	return fmt.Sprintf("retry discards %d messages", e.discardCount)
}

// ContextView is the API's context window report.
type ContextView struct {
	LocationID    string             `json:"location_id"`
	TokenCount    int                `json:"token_count"`
	Threshold     int                `json:"threshold"`
	Due           bool               `json:"due"`
	HistoryLength int                `json:"history_length"`
	Window        []chat.ChatMessage `json:"window"`
}

type apiClient struct {
	http    *http.Client
	baseURL string
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *apiClient) testConnection() bool {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// do sends a JSON request and decodes a JSON response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any, okStatus ...int) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if len(okStatus) == 0 {
		okStatus = []int{http.StatusOK}
	}
	for _, s := range okStatus {
		if resp.StatusCode == s {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			return nil
		}
	}

	var errorResp ErrorResponse
	if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode == http.StatusConflict && errorResp.DiscardCount != nil {
		return &confirmError{discardCount: *errorResp.DiscardCount}
	}
	return errors.New(errorResp.Error)
}

func (c *apiClient) listLocations(ctx context.Context) ([]state.Location, error) {
	var out []state.Location
	err := c.do(ctx, http.MethodGet, "/v1/locations", nil, &out)
	return out, err
}

func (c *apiClient) listCharacters(ctx context.Context) ([]state.Character, error) {
	var out []state.Character
	err := c.do(ctx, http.MethodGet, "/v1/characters", nil, &out)
	return out, err
}

func (c *apiClient) history(ctx context.Context, locationID string) ([]chat.ChatMessage, error) {
	var out []chat.ChatMessage
	err := c.do(ctx, http.MethodGet, chatPath(locationID, "messages"), nil, &out)
	return out, err
}

func (c *apiClient) postMessage(ctx context.Context, locationID string, msgType chat.MessageType, text string) (*chat.ChatMessage, error) {
	var out chat.ChatMessage
	err := c.do(ctx, http.MethodPost, chatPath(locationID, "messages"),
		chat.PostMessageRequest{Type: msgType, Text: text}, &out, http.StatusCreated)
	return &out, err
}

func (c *apiClient) postExposition(ctx context.Context, locationID string) ([]chat.ChatMessage, error) {
	var out []chat.ChatMessage
	err := c.do(ctx, http.MethodPost, chatPath(locationID, "exposition"), nil, &out, http.StatusCreated)
	return out, err
}

func (c *apiClient) turn(ctx context.Context, locationID string, req chat.TurnRequest) (*chat.TurnResponse, error) {
	var out chat.TurnResponse
	err := c.do(ctx, http.MethodPost, chatPath(locationID, "turn"), req, &out)
	return &out, err
}

func (c *apiClient) retry(ctx context.Context, locationID string, req chat.RetryRequest) (*chat.TurnResponse, error) {
	var out chat.TurnResponse
	err := c.do(ctx, http.MethodPost, chatPath(locationID, "retry"), req, &out)
	return &out, err
}

func (c *apiClient) context(ctx context.Context, locationID string) (*ContextView, error) {
	var out ContextView
	err := c.do(ctx, http.MethodGet, chatPath(locationID, "context"), nil, &out)
	return &out, err
}

func chatPath(locationID, action string) string {
	return "/v1/chat/" + url.PathEscape(locationID) + "/" + action
}

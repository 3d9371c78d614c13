package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/troupe/pkg/chat"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	DefaultAnthropicMaxTokens = 2048
)

// AnthropicService implements LLMService for the Anthropic Messages API.
type AnthropicService struct {
	apiKey     string
	modelName  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// anthropicBlock covers the content block shapes used here: text,
// thinking, tool_use and tool_result.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicService creates an Anthropic client. An empty baseURL uses
// the public API.
func NewAnthropicService(apiKey, modelName, baseURL string, logger *slog.Logger) *AnthropicService {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicService{
		apiKey:    apiKey,
		modelName: modelName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		// Requests carry their deadline in the context; ReliableLLM sets
		// it from GENERATION_TIMEOUT.
		httpClient: &http.Client{},
		logger: logger,
	}
}

func (a *AnthropicService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

func (a *AnthropicService) Generate(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingCredential)
	}
	model, err := resolveModel(req, a.modelName)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	wire := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicBlock{{Type: "text", Text: req.Prompt}},
		}},
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, anthropicTool(t))
	}

	out := &chat.GenerateResponse{Model: model}
	var text, reasoning []string
	steps := maxSteps(req)
	for step := 0; step < steps; step++ {
		resp, err := a.send(ctx, &wire)
		if err != nil {
			return nil, err
		}
		out.Usage.InputTokens += resp.Usage.InputTokens
		out.Usage.OutputTokens += resp.Usage.OutputTokens

		var results []anthropicBlock
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					text = append(text, block.Text)
				}
			case "thinking":
				if block.Thinking != "" {
					reasoning = append(reasoning, block.Thinking)
				}
			case "tool_use":
				out.ToolCalls = append(out.ToolCalls, chat.ToolCall{
					ID:    block.ID,
					Name:  block.Name,
					Input: nonEmptyJSON(block.Input),
				})
				results = append(results, anthropicBlock{Type: "tool_result", ToolUseID: block.ID, Content: toolAck})
			}
		}

		if resp.StopReason != "tool_use" || len(results) == 0 {
			break
		}
		wire.Messages = append(wire.Messages,
			anthropicMessage{Role: "assistant", Content: resp.Content},
			anthropicMessage{Role: "user", Content: results},
		)
		a.logger.Debug("Continuing multi-step generation", "step", step+1, "tool_calls", len(results))
	}

	out.Text = strings.Join(text, "\n\n")
	out.Reasoning = strings.Join(reasoning, "\n\n")
	return out, nil
}

func (a *AnthropicService) send(ctx context.Context, wire *anthropicRequest) (*anthropicResponse, error) {
	reqBody, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s", out.Error.Message)
	}
	return &out, nil
}

// nonEmptyJSON maps a missing or null payload to nil so callers can
// treat it as malformed.
func nonEmptyJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return raw
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/jwebster45206/troupe/pkg/chat"
)

// Base URLs for the OpenAI-compatible providers.
const (
	veniceBaseURL = "https://api.venice.ai/api/v1"
	openAIBaseURL = "https://api.openai.com/v1"
	ollamaBaseURL = "http://localhost:11434/v1"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// OpenAICompatService implements LLMService for any API speaking the
// OpenAI chat completions format (Venice, OpenAI, Ollama).
type OpenAICompatService struct {
	provider   string
	apiKey     string
	modelName  string
	baseURL    string
	httpClient *http.Client
	tokens     *TokenEstimator
	logger     *slog.Logger
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAITool struct {
	Type     string               `json:"type"`
	Function openAIToolDefinition `json:"function"`
}

type veniceParameters struct {
	IncludeVeniceSystemPrompt bool   `json:"include_venice_system_prompt"`
	EnableWebSearch           string `json:"enable_web_search"`
}

type openAIRequest struct {
	Model            string            `json:"model"`
	Messages         []openAIMessage   `json:"messages"`
	Tools            []openAITool      `json:"tools,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	TopK             *int              `json:"top_k,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Stream           bool              `json:"stream"`
	VeniceParameters *veniceParameters `json:"venice_parameters,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role             string           `json:"role"`
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAICompatService creates a client for provider ("venice",
// "openai" or "ollama"). An empty baseURL uses the provider default.
func NewOpenAICompatService(provider, apiKey, modelName, baseURL string, logger *slog.Logger) *OpenAICompatService {
	if baseURL == "" {
		switch provider {
		case "venice":
			baseURL = veniceBaseURL
		case "ollama":
			baseURL = ollamaBaseURL
		default:
			baseURL = openAIBaseURL
		}
	}
	return &OpenAICompatService{
		provider:  provider,
		apiKey:    apiKey,
		modelName: modelName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		// Requests carry their deadline in the context; ReliableLLM sets
		// it from GENERATION_TIMEOUT.
		httpClient: &http.Client{},
		tokens: NewTokenEstimator(""),
		logger: logger,
	}
}

// InitModel initializes the model (hosted providers don't require explicit model initialization)
func (o *OpenAICompatService) InitModel(ctx context.Context, modelName string) error {
	return nil
}

func (o *OpenAICompatService) Generate(ctx context.Context, req *chat.GenerateRequest) (*chat.GenerateResponse, error) {
	if o.apiKey == "" && o.provider != "ollama" {
		return nil, fmt.Errorf("%s: %w", o.provider, ErrMissingCredential)
	}
	model, err := resolveModel(req, o.modelName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.provider, err)
	}

	wire := openAIRequest{
		Model:       model,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		MaxTokens:   req.Params.MaxTokens,
	}
	// top_k is not part of the OpenAI API proper
	if o.provider != "openai" {
		wire.TopK = req.Params.TopK
	}
	if o.provider == "venice" {
		wire.VeniceParameters = &veniceParameters{EnableWebSearch: "off"}
	}
	if req.System != "" {
		wire.Messages = append(wire.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	wire.Messages = append(wire.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openAITool{
			Type:     "function",
			Function: openAIToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}

	out := &chat.GenerateResponse{Model: model}
	var text, reasoning []string
	reported := false
	steps := maxSteps(req)
	for step := 0; step < steps; step++ {
		resp, err := o.send(ctx, &wire)
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			reported = true
			out.Usage.InputTokens += resp.Usage.PromptTokens
			out.Usage.OutputTokens += resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			break
		}
		choice := resp.Choices[0]

		content, inline := splitThinking(choice.Message.Content)
		if content != "" {
			text = append(text, content)
		}
		if r := strings.TrimSpace(choice.Message.ReasoningContent); r != "" {
			reasoning = append(reasoning, r)
		}
		if inline != "" {
			reasoning = append(reasoning, inline)
		}

		var results []openAIMessage
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, chat.ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: parseArguments(tc.Function.Arguments),
			})
			results = append(results, openAIMessage{Role: "tool", ToolCallID: tc.ID, Content: toolAck})
		}

		if choice.FinishReason != "tool_calls" || len(results) == 0 {
			break
		}
		wire.Messages = append(wire.Messages, openAIMessage{
			Role:      "assistant",
			Content:   choice.Message.Content,
			ToolCalls: choice.Message.ToolCalls,
		})
		wire.Messages = append(wire.Messages, results...)
		o.logger.Debug("Continuing multi-step generation", "provider", o.provider, "step", step+1)
	}

	out.Text = strings.Join(text, "\n\n")
	out.Reasoning = strings.Join(reasoning, "\n\n")
	if !reported {
		out.Usage = chat.Usage{
			InputTokens:  o.tokens.Count(req.System) + o.tokens.Count(req.Prompt),
			OutputTokens: o.tokens.Count(out.Text),
		}
	}
	return out, nil
}

func (o *OpenAICompatService) send(ctx context.Context, wire *openAIRequest) (*openAIResponse, error) {
	reqBody, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: o.provider, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", o.provider, out.Error.Message)
	}
	return &out, nil
}

// splitThinking separates inline <think> blocks some reasoning models
// emit from the visible content.
func splitThinking(content string) (visible, thinking string) {
	var parts []string
	for _, m := range thinkTagRe.FindAllStringSubmatch(content, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
	}
	visible = strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))
	return visible, strings.Join(parts, "\n\n")
}

// parseArguments returns nil for arguments that are empty or not valid
// JSON, which the executor treats as a malformed call.
func parseArguments(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" || !json.Valid([]byte(args)) {
		return nil
	}
	return nonEmptyJSON(json.RawMessage(args))
}

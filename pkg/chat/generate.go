package chat

import "encoding/json"

// ToolSpec declares a tool the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is a single tool invocation returned by the model.
// Input is nil when the model omitted the payload.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// SamplingParams are optional; nil fields use the provider default.
type SamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Usage is token accounting reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerateRequest is one logical call to a text generation model.
type GenerateRequest struct {
	Model  string         `json:"model"`
	System string         `json:"system"`
	Prompt string         `json:"prompt"`
	Tools  []ToolSpec     `json:"tools,omitempty"`
	Params SamplingParams `json:"params"`

	// MaxSteps bounds multi-step tool use. Zero or one means a single call.
	MaxSteps int `json:"max_steps,omitempty"`
}

// GenerateResponse is the result of a GenerateRequest.
type GenerateResponse struct {
	Text      string     `json:"text"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Model     string     `json:"model,omitempty"`
}

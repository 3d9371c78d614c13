package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAICompatService_BaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"venice", veniceBaseURL},
		{"openai", openAIBaseURL},
		{"ollama", ollamaBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			s := NewOpenAICompatService(tt.provider, "k", "m", "", testLogger())
			assert.Equal(t, tt.want, s.baseURL)
		})
	}
	s := NewOpenAICompatService("openai", "k", "m", "http://example.test/v1/", testLogger())
	assert.Equal(t, "http://example.test/v1", s.baseURL)
	assert.Zero(t, s.httpClient.Timeout, "attempt deadlines come from the request context")
}

func TestOpenAICompatService_Generate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"model": "llama",
			"choices": [{
				"finish_reason": "stop",
				"message": {
					"role": "assistant",
					"content": "<think>plan the reply</think>\n*nods* \"Welcome.\"",
					"tool_calls": [
						{"id": "c1", "type": "function", "function": {"name": "set_user_name", "arguments": "{\"name\":\"Sam\"}"}},
						{"id": "c2", "type": "function", "function": {"name": "take_note", "arguments": "not json"}}
					]
				}
			}],
			"usage": {"prompt_tokens": 200, "completion_tokens": 12}
		}`))
	}))
	defer server.Close()

	topK := 40
	s := NewOpenAICompatService("venice", "k", "llama", server.URL, testLogger())
	resp, err := s.Generate(context.Background(), &chat.GenerateRequest{
		System: "sys",
		Prompt: "hello",
		Tools:  []chat.ToolSpec{{Name: "set_user_name", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		Params: chat.SamplingParams{TopK: &topK, MaxTokens: 300},
	})
	require.NoError(t, err)

	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "hello", messages[1].(map[string]any)["content"])
	assert.EqualValues(t, 40, got["top_k"])
	assert.EqualValues(t, 300, got["max_tokens"])
	assert.NotNil(t, got["venice_parameters"])
	tools := got["tools"].([]any)
	assert.Equal(t, "function", tools[0].(map[string]any)["type"])

	assert.Equal(t, `*nods* "Welcome."`, resp.Text)
	assert.Equal(t, "plan the reply", resp.Reasoning)
	require.Len(t, resp.ToolCalls, 2)
	assert.JSONEq(t, `{"name":"Sam"}`, string(resp.ToolCalls[0].Input))
	assert.Nil(t, resp.ToolCalls[1].Input, "invalid arguments are treated as missing")
	assert.Equal(t, chat.Usage{InputTokens: 200, OutputTokens: 12}, resp.Usage)
}

func TestOpenAICompatService_OpenAIOmitsTopK(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer server.Close()

	topK := 5
	s := NewOpenAICompatService("openai", "k", "gpt", server.URL, testLogger())
	_, err := s.Generate(context.Background(), &chat.GenerateRequest{Prompt: "x", Params: chat.SamplingParams{TopK: &topK}})
	require.NoError(t, err)
	_, hasTopK := got["top_k"]
	assert.False(t, hasTopK)
	_, hasVenice := got["venice_parameters"]
	assert.False(t, hasVenice)
}

func TestOpenAICompatService_EstimatesMissingUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"abcdefgh"}}]}`))
	}))
	defer server.Close()

	s := NewOpenAICompatService("ollama", "", "llama3", server.URL, testLogger())
	s.tokens = offlineEstimator()
	resp, err := s.Generate(context.Background(), &chat.GenerateRequest{System: "abcd", Prompt: "abcdefgh"})
	require.NoError(t, err)
	assert.Equal(t, chat.Usage{InputTokens: 3, OutputTokens: 2}, resp.Usage)
}

func TestOpenAICompatService_MultiStep(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if calls == 1 {
			_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"tool_calls","message":{"content":"","tool_calls":[{"id":"t1","type":"function","function":{"name":"take_note","arguments":"{\"note\":\"a\"}"}}]}}],"usage":{"prompt_tokens":5,"completion_tokens":1}}`))
			return
		}
		last := req.Messages[len(req.Messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Equal(t, "t1", last.ToolCallID)
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"fin"}}],"usage":{"prompt_tokens":7,"completion_tokens":1}}`))
	}))
	defer server.Close()

	s := NewOpenAICompatService("openai", "k", "gpt", server.URL, testLogger())
	resp, err := s.Generate(context.Background(), &chat.GenerateRequest{Prompt: "x", MaxSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "fin", resp.Text)
	assert.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, 12, resp.Usage.InputTokens)
}

func TestOpenAICompatService_MissingKey(t *testing.T) {
	s := NewOpenAICompatService("venice", "", "m", "http://unused", testLogger())
	_, err := s.Generate(context.Background(), &chat.GenerateRequest{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestSplitThinking(t *testing.T) {
	visible, thinking := splitThinking("plain")
	assert.Equal(t, "plain", visible)
	assert.Empty(t, thinking)

	visible, thinking = splitThinking("<think>\n</think>")
	assert.Empty(t, visible)
	assert.Empty(t, thinking)
}

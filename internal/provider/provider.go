// Package provider adapts an OpenAI-compatible chat-completion backend to
// the agent turn executor's message/tool-call shape, via the go-openai
// client.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quietloop/agentd/internal/toolregistry"
)

// Message is the provider-shape entry the Context Builder produces: a
// system entry followed by each history message in order.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is one model-requested tool invocation, carrying the id the
// model chose.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ChatResponse is the parsed first choice of a chat-completion call.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage carries token accounting, when the backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Error is the ProviderError kind: transport or decode failures from the
// chat-completion backend. The executor does not retry it; it terminates
// the turn with this text as the assistant reply.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("provider error: %v", e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Provider is the single operation the executor depends on.
type Provider interface {
	Chat(ctx context.Context, messages []Message, tools []toolregistry.Definition) (ChatResponse, error)
}

// OpenAIProvider posts to an OpenAI-compatible `{base_url}/chat/completions`
// endpoint via the go-openai client, per the external interfaces contract:
// headers carry `Authorization: Bearer …` when an API key is configured,
// and the first choice's content and tool_calls are consumed.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds an adapter against baseURL (e.g.
// "https://api.openai.com/v1"). timeout bounds every call via the
// client's HTTP transport; defaults to 120s when unset.
func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

// Chat posts messages and the registry's tool definitions to the backend
// and parses the first choice.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []toolregistry.Definition) (ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: wireMessages(messages),
	}
	for _, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.ParameterSchema, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ChatResponse{}, &Error{Cause: err}
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, &Error{Cause: fmt.Errorf("no choices in response")}
	}

	choice := resp.Choices[0].Message
	out := ChatResponse{
		Content: choice.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func wireMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

// decodeArguments handles the two shapes a backend may send tool-call
// arguments in: a JSON object, or a JSON-encoded text string. On decode
// failure the raw text is wrapped so downstream handlers still receive a
// map rather than failing outright.
func decodeArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj
	}

	var text string
	if err := json.Unmarshal([]byte(raw), &text); err == nil {
		var nested map[string]any
		if err := json.Unmarshal([]byte(text), &nested); err == nil {
			return nested
		}
		return map[string]any{"_raw": text}
	}

	return map[string]any{"_raw": raw}
}

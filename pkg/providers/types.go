package providers

import "context"

// Message is one entry in a conversation sent to the completions API.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallPayload `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// ToolCallPayload is the wire form of an assistant tool call, echoed back
// verbatim on subsequent requests.
type ToolCallPayload struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function FunctionCallPayload `json:"function"`
}

type FunctionCallPayload struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a parsed tool invocation from the model's response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolDefinition advertises one callable tool in OpenAI function format.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the provider-neutral result of one completion call.
type LLMResponse struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	FinishReason     string
	Usage            *UsageInfo
}

// LLMProvider is a chat-completions backend.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

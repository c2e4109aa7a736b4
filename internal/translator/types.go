// Package translator converts inbound Claude- and OpenAI-format chat
// requests into the backend's conversation-state payload.
package translator

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Inbound: Claude messages API
// ---------------------------------------------------------------------------

// ClaudeRequest mirrors the Anthropic messages API request body.
type ClaudeRequest struct {
	Model       string          `json:"model"`
	Messages    []ClaudeMessage `json:"messages"`
	System      SystemPrompt    `json:"system,omitempty"`
	Tools       []ClaudeTool    `json:"tools,omitempty"`
	// MaxTokens and Temperature are accepted for client compatibility but
	// not forwarded: the backend payload has no slot for them.
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      *bool    `json:"stream,omitempty"`
}

// StreamRequested reports the stream flag with its default of true.
func (r *ClaudeRequest) StreamRequested() bool {
	return r.Stream == nil || *r.Stream
}

// ClaudeMessage is one conversation turn.
type ClaudeMessage struct {
	Role    string        `json:"role"`
	Content ClaudeContent `json:"content"`
}

// ClaudeContent accepts both the shorthand string form and the content-block
// array form used by agentic clients.
type ClaudeContent []ClaudeContentBlock

// UnmarshalJSON normalizes a bare string into a single text block.
func (c *ClaudeContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ClaudeContent{{Type: "text", Text: s}}
		return nil
	}

	var blocks []ClaudeContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or a block array: %w", err)
	}
	*c = blocks
	return nil
}

// ClaudeContentBlock is one entry of a block-array message. Only the fields
// for the block's type are set.
type ClaudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ClaudeTool is a tool declaration.
type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// SystemPrompt accepts both the string form and the block-array form.
type SystemPrompt string

// UnmarshalJSON flattens block-array system prompts into one string.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt(str)
		return nil
	}

	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or a block array: %w", err)
	}
	out := ""
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	*s = SystemPrompt(out)
	return nil
}

// ---------------------------------------------------------------------------
// Inbound: OpenAI chat completions API
// ---------------------------------------------------------------------------

// ChatCompletionRequest mirrors the OpenAI chat completions request body.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      *bool         `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// StreamRequested reports the stream flag with its default of true.
func (r *ChatCompletionRequest) StreamRequested() bool {
	return r.Stream == nil || *r.Stream
}

// ChatMessage is one OpenAI-format turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToClaude lifts an OpenAI request into the Claude form so both inbound
// formats share one translation pipeline. System messages become the system
// prompt; other roles pass through.
func (r *ChatCompletionRequest) ToClaude() ClaudeRequest {
	out := ClaudeRequest{
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Stream:      r.Stream,
	}

	var system SystemPrompt
	for _, msg := range r.Messages {
		if msg.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += SystemPrompt(msg.Content)
			continue
		}
		out.Messages = append(out.Messages, ClaudeMessage{
			Role:    msg.Role,
			Content: ClaudeContent{{Type: "text", Text: msg.Content}},
		})
	}
	out.System = system
	return out
}

// ---------------------------------------------------------------------------
// Outbound: backend conversation-state payload
// ---------------------------------------------------------------------------

// ConversationRequest is the backend chat payload.
type ConversationRequest struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileARN        string            `json:"profileArn,omitempty"`
	SystemPrompt      string            `json:"systemPrompt,omitempty"`
}

// ConversationState carries the history plus the current turn.
type ConversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  CurrentMessage `json:"currentMessage"`
	History         []HistoryEntry `json:"history,omitempty"`
}

// CurrentMessage wraps the in-flight user turn.
type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// HistoryEntry is one prior turn; exactly one field is set.
type HistoryEntry struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// UserInputMessage is a user turn in backend form.
type UserInputMessage struct {
	Content                 string                   `json:"content"`
	ModelID                 string                   `json:"modelId,omitempty"`
	Origin                  string                   `json:"origin,omitempty"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// UserInputMessageContext holds tool declarations and tool results.
type UserInputMessageContext struct {
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Tools       []ToolSpec   `json:"tools,omitempty"`
}

// ToolResult is one tool invocation's outcome, keyed by the invocation id.
type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Status    string              `json:"status,omitempty"`
	Content   []ToolResultContent `json:"content"`
}

// ToolResultContent is one entry of a tool result's content list.
type ToolResultContent struct {
	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
}

// ToolSpec wraps a tool declaration in backend form.
type ToolSpec struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification describes one callable tool.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema wraps the tool's JSON schema.
type InputSchema struct {
	JSON json.RawMessage `json:"json"`
}

// AssistantResponseMessage is an assistant turn in backend form.
type AssistantResponseMessage struct {
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`
}

// ToolUse records one tool invocation made by the assistant.
type ToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

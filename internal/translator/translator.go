package translator

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

const (
	messageOrigin   = "AI_EDITOR"
	chatTriggerType = "MANUAL"
)

// Translator builds backend conversation-state payloads from inbound chat
// requests. It is a pure transformation; a fresh conversation id is the only
// non-deterministic output.
type Translator struct {
	// DefaultModel is substituted when a request omits the model id.
	DefaultModel string
}

// New creates a Translator with the given default model.
func New(defaultModel string) *Translator {
	return &Translator{DefaultModel: defaultModel}
}

// Model resolves the effective model id for a request.
func (t *Translator) Model(requested string) string {
	if requested == "" {
		return t.DefaultModel
	}
	return requested
}

// Translate converts a Claude-format request into the backend payload.
// All messages but the last become history; the last becomes the current
// turn. Adjacent same-role history turns are merged and tool results are
// deduplicated by invocation id.
func (t *Translator) Translate(req ClaudeRequest, profileARN string) ConversationRequest {
	model := t.Model(req.Model)

	var history []ClaudeMessage
	var current ClaudeMessage
	if n := len(req.Messages); n > 0 {
		history = req.Messages[:n-1]
		current = req.Messages[n-1]
	}

	turns := mergeTurns(toTurns(history))
	for i := range turns {
		turns[i].toolResults = dedupeToolResults(turns[i].toolResults)
	}

	currentTurn := toTurn(current)
	currentTurn.toolResults = dedupeToolResults(currentTurn.toolResults)

	userMsg := UserInputMessage{
		Content: currentTurn.text(),
		ModelID: model,
		Origin:  messageOrigin,
	}
	if ctx := buildContext(currentTurn.toolResults, req.Tools); ctx != nil {
		userMsg.UserInputMessageContext = ctx
	}

	return ConversationRequest{
		ConversationState: ConversationState{
			ChatTriggerType: chatTriggerType,
			ConversationID:  uuid.New().String(),
			CurrentMessage:  CurrentMessage{UserInputMessage: userMsg},
			History:         encodeHistory(turns, model),
		},
		ProfileARN:   profileARN,
		SystemPrompt: string(req.System),
	}
}

// turn is the intermediate, protocol-neutral form of one conversation turn.
type turn struct {
	role        string
	contents    []string
	toolResults []ToolResult
	toolUses    []ToolUse
}

func (t *turn) text() string {
	return strings.Join(t.contents, "\n")
}

// toTurn flattens one inbound message into a turn.
func toTurn(msg ClaudeMessage) turn {
	out := turn{role: msg.Role}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.contents = append(out.contents, block.Text)
			}
		case "tool_use":
			out.toolUses = append(out.toolUses, ToolUse{
				ToolUseID: block.ID,
				Name:      block.Name,
				Input:     block.Input,
			})
		case "tool_result":
			out.toolResults = append(out.toolResults, ToolResult{
				ToolUseID: block.ToolUseID,
				Status:    "success",
				Content:   toolResultContent(block.Content),
			})
		}
	}
	return out
}

func toTurns(messages []ClaudeMessage) []turn {
	out := make([]turn, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toTurn(msg))
	}
	return out
}

// mergeTurns collapses adjacent same-role turns into one: the backend
// rejects histories with consecutive same-speaker entries.
func mergeTurns(turns []turn) []turn {
	var out []turn
	for _, t := range turns {
		if n := len(out); n > 0 && out[n-1].role == t.role {
			prev := &out[n-1]
			prev.contents = append(prev.contents, t.contents...)
			prev.toolResults = append(prev.toolResults, t.toolResults...)
			prev.toolUses = append(prev.toolUses, t.toolUses...)
			continue
		}
		out = append(out, t)
	}
	return out
}

// dedupeToolResults groups records by invocation id: the first record for an
// id survives and later records' content entries are appended to it, in
// their original order.
func dedupeToolResults(results []ToolResult) []ToolResult {
	if len(results) < 2 {
		return results
	}

	index := make(map[string]int, len(results))
	var out []ToolResult
	for _, r := range results {
		if i, seen := index[r.ToolUseID]; seen {
			out[i].Content = append(out[i].Content, r.Content...)
			continue
		}
		index[r.ToolUseID] = len(out)
		out = append(out, r)
	}
	return out
}

// toolResultContent parses the inbound tool_result content, which may be a
// bare string, a block array, or arbitrary JSON.
func toolResultContent(raw json.RawMessage) []ToolResultContent {
	if len(raw) == 0 {
		return []ToolResultContent{{Text: ""}}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []ToolResultContent{{Text: s}}
	}

	var blocks []struct {
		Type string          `json:"type"`
		Text string          `json:"text"`
		JSON json.RawMessage `json:"json"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := make([]ToolResultContent, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" || b.Type == "text" {
				out = append(out, ToolResultContent{Text: b.Text})
			} else if len(b.JSON) > 0 {
				out = append(out, ToolResultContent{JSON: b.JSON})
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	return []ToolResultContent{{JSON: raw}}
}

// buildContext assembles the user-message context, or nil when empty.
func buildContext(results []ToolResult, tools []ClaudeTool) *UserInputMessageContext {
	if len(results) == 0 && len(tools) == 0 {
		return nil
	}

	ctx := &UserInputMessageContext{ToolResults: results}
	for _, tool := range tools {
		ctx.Tools = append(ctx.Tools, ToolSpec{
			ToolSpecification: ToolSpecification{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: InputSchema{JSON: tool.InputSchema},
			},
		})
	}
	return ctx
}

// encodeHistory renders merged turns into backend history entries.
func encodeHistory(turns []turn, model string) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		switch t.role {
		case "assistant":
			out = append(out, HistoryEntry{
				AssistantResponseMessage: &AssistantResponseMessage{
					Content:  t.text(),
					ToolUses: t.toolUses,
				},
			})
		default:
			msg := &UserInputMessage{
				Content: t.text(),
				ModelID: model,
				Origin:  messageOrigin,
			}
			if len(t.toolResults) > 0 {
				msg.UserInputMessageContext = &UserInputMessageContext{ToolResults: t.toolResults}
			}
			out = append(out, HistoryEntry{UserInputMessage: msg})
		}
	}
	return out
}

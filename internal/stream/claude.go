package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// writeSSE emits one Claude-style SSE block and flushes it immediately so
// the client sees events in real time.
func writeSSE(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// RenderClaude re-encodes a decoded event source as Claude messages-API SSE:
// message_start / content_block_start preamble, one content_block_delta per
// delta, and the content_block_stop / message_delta / message_stop closing
// sequence. Each event maps to one `event: <type>\ndata: <json>` block.
func RenderClaude(w io.Writer, src Source, model string) error {
	messageID := "msg_" + uuid.New().String()

	start := map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	}
	if err := writeSSE(w, "message_start", start); err != nil {
		return err
	}

	blockStart := map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	}
	if err := writeSSE(w, "content_block_start", blockStart); err != nil {
		return err
	}

	for {
		ev, err := src.Next()
		if err != nil {
			break
		}

		switch ev.Type {
		case EventContentDelta:
			delta := map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "text_delta", "text": ev.Text},
			}
			if err := writeSSE(w, "content_block_delta", delta); err != nil {
				return err
			}
		case EventError:
			errEvent := map[string]any{
				"type": "error",
				"error": map[string]any{
					"type":    ev.Code,
					"message": ev.Message,
				},
			}
			if err := writeSSE(w, "error", errEvent); err != nil {
				return err
			}
		case EventMessageStop:
			if err := writeSSE(w, "content_block_stop", map[string]any{
				"type":  "content_block_stop",
				"index": 0,
			}); err != nil {
				return err
			}
			if err := writeSSE(w, "message_delta", map[string]any{
				"type":  "message_delta",
				"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
				"usage": map[string]int{"output_tokens": 0},
			}); err != nil {
				return err
			}
			return writeSSE(w, "message_stop", map[string]any{"type": "message_stop"})
		}
	}
	return nil
}

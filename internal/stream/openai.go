package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// These structs define the JSON shape OpenAI-compatible clients expect per
// SSE chunk. FinishReason is a pointer so non-final chunks render as null.
type chatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// CompletionMessage is the assistant message of a non-streaming response.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionChoice is one choice of a non-streaming response.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionUsage mirrors the OpenAI usage object. The backend reports no
// token counts, so the fields stay zero.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the non-streaming chat completion body.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

// NewCompletionResponse assembles a non-streaming response from the
// aggregate assistant text.
func NewCompletionResponse(text, model string) CompletionResponse {
	return CompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Message:      CompletionMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
	}
}

// RenderOpenAI re-encodes a decoded event source as OpenAI streaming SSE.
// Exactly one role chunk precedes the first content chunk, each non-empty
// delta becomes one content chunk, message stop becomes one finish chunk,
// and the [DONE] sentinel terminates the stream whether or not a stop
// event was seen.
func RenderOpenAI(w io.Writer, src Source, model string) error {
	streamID := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()
	roleSent := false

	emit := func(choice chunkChoice) error {
		chunk := chatChunk{
			ID:      streamID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chunkChoice{choice},
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("encoding chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		return nil
	}

	for {
		ev, err := src.Next()
		if err != nil {
			break
		}

		switch ev.Type {
		case EventContentDelta:
			if ev.Text == "" {
				continue
			}
			if !roleSent {
				if err := emit(chunkChoice{Delta: chunkDelta{Role: "assistant"}}); err != nil {
					return err
				}
				roleSent = true
			}
			if err := emit(chunkChoice{Delta: chunkDelta{Content: ev.Text}}); err != nil {
				return err
			}
		case EventMessageStop:
			reason := "stop"
			if err := emit(chunkChoice{FinishReason: &reason}); err != nil {
				return err
			}
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

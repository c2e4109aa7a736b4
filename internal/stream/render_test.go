package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

// sliceSource replays a fixed event sequence.
type sliceSource struct {
	events []Event
	pos    int
}

func (s *sliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func deltaStream(texts ...string) *sliceSource {
	var events []Event
	for _, t := range texts {
		events = append(events, Event{Type: EventContentDelta, Text: t})
	}
	events = append(events, Event{Type: EventMessageStop})
	return &sliceSource{events: events}
}

// parseSSEData extracts the data lines of an SSE stream in order.
func parseSSEData(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func TestRenderOpenAIChunkOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderOpenAI(&buf, deltaStream("hi", "!"), "claude-sonnet-4.5"); err != nil {
		t.Fatalf("render: %v", err)
	}

	data := parseSSEData(buf.String())
	// role + 2 content + finish + [DONE]
	if len(data) != 5 {
		t.Fatalf("expected 5 data lines, got %d: %v", len(data), data)
	}
	if data[4] != "[DONE]" {
		t.Fatalf("expected [DONE] sentinel last, got %q", data[4])
	}

	type chunk struct {
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}

	var chunks []chunk
	for _, d := range data[:4] {
		var c chunk
		if err := json.Unmarshal([]byte(d), &c); err != nil {
			t.Fatalf("chunk is not valid JSON: %v (%s)", err, d)
		}
		if c.Object != "chat.completion.chunk" {
			t.Fatalf("unexpected object: %q", c.Object)
		}
		if c.Model != "claude-sonnet-4.5" {
			t.Fatalf("unexpected model: %q", c.Model)
		}
		chunks = append(chunks, c)
	}

	if chunks[0].Choices[0].Delta.Role != "assistant" || chunks[0].Choices[0].Delta.Content != "" {
		t.Fatalf("expected a pure role chunk first, got %+v", chunks[0].Choices[0])
	}
	if chunks[1].Choices[0].Delta.Content != "hi" {
		t.Fatalf("expected first content chunk 'hi', got %+v", chunks[1].Choices[0])
	}
	if chunks[2].Choices[0].Delta.Content != "!" {
		t.Fatalf("expected second content chunk '!', got %+v", chunks[2].Choices[0])
	}
	if chunks[1].Choices[0].FinishReason != nil {
		t.Fatalf("expected null finish_reason on content chunks")
	}
	final := chunks[3].Choices[0]
	if final.FinishReason == nil || *final.FinishReason != "stop" {
		t.Fatalf("expected finish chunk with reason stop, got %+v", final)
	}
}

func TestRenderOpenAIEmptyStreamStillSendsDone(t *testing.T) {
	var buf bytes.Buffer
	src := &sliceSource{events: []Event{{Type: EventMessageStop}}}
	if err := RenderOpenAI(&buf, src, "m"); err != nil {
		t.Fatalf("render: %v", err)
	}

	data := parseSSEData(buf.String())
	// finish chunk + [DONE]; no role chunk without content.
	if len(data) != 2 {
		t.Fatalf("expected 2 data lines, got %v", data)
	}
	if data[1] != "[DONE]" {
		t.Fatalf("expected [DONE] last, got %q", data[1])
	}
}

func TestRenderOpenAISkipsEmptyDeltas(t *testing.T) {
	var buf bytes.Buffer
	src := &sliceSource{events: []Event{
		{Type: EventContentDelta, Text: ""},
		{Type: EventContentDelta, Text: "x"},
		{Type: EventMessageStop},
	}}
	if err := RenderOpenAI(&buf, src, "m"); err != nil {
		t.Fatalf("render: %v", err)
	}

	data := parseSSEData(buf.String())
	// role + 1 content + finish + [DONE]
	if len(data) != 4 {
		t.Fatalf("expected empty delta to be dropped, got %v", data)
	}
}

func TestRenderClaudeEventSequence(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderClaude(&buf, deltaStream("hello"), "claude-sonnet-4.5"); err != nil {
		t.Fatalf("render: %v", err)
	}

	var kinds []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "event: ") {
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		}
	}

	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q", i, want[i], kinds[i])
		}
	}

	if !strings.Contains(buf.String(), `"text":"hello"`) {
		t.Fatalf("delta text missing from stream:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `"stop_reason":"end_turn"`) {
		t.Fatalf("stop reason missing from stream:\n%s", buf.String())
	}
}

func TestNewCompletionResponse(t *testing.T) {
	resp := NewCompletionResponse("answer", "claude-sonnet-4")
	if resp.Object != "chat.completion" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "answer" || resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("unexpected message: %+v", resp.Choices[0].Message)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %q", resp.Choices[0].FinishReason)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("unexpected id: %q", resp.ID)
	}
}

// Package stream decodes the backend's framed event stream and re-encodes
// it into Claude-style or OpenAI-style SSE output.
package stream

import "strings"

// EventType tags a protocol-neutral stream event.
type EventType string

const (
	// EventContentDelta carries a fragment of assistant text.
	EventContentDelta EventType = "content_block_delta"
	// EventMessageStop is the single terminal signal of a stream.
	EventMessageStop EventType = "message_stop"
	// EventError carries a backend exception frame.
	EventError EventType = "error"
)

// Event is one decoded backend frame. Frames that carry nothing useful
// decode to no event at all.
type Event struct {
	Type    EventType
	Text    string // content delta
	Code    string // error
	Message string // error
}

// Source yields events in backend arrival order. Next returns io.EOF once
// the stream is exhausted; EventMessageStop is delivered before that.
type Source interface {
	Next() (Event, error)
}

// Collect drains a source into the concatenated assistant text, for
// non-streaming callers that want a single aggregate response.
func Collect(src Source) string {
	var sb strings.Builder
	for {
		ev, err := src.Next()
		if err != nil {
			break
		}
		if ev.Type == EventContentDelta {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

package stream

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
)

// buildFrame assembles one wire frame with valid checksums.
func buildFrame(headers map[string]string, payload []byte) []byte {
	var hdr bytes.Buffer
	for name, value := range headers {
		hdr.WriteByte(byte(len(name)))
		hdr.WriteString(name)
		hdr.WriteByte(headerTypeString)
		var vlen [2]byte
		binary.BigEndian.PutUint16(vlen[:], uint16(len(value)))
		hdr.Write(vlen[:])
		hdr.WriteString(value)
	}

	total := preludeLen + hdr.Len() + len(payload) + 4

	var out bytes.Buffer
	var prelude [preludeLen]byte
	binary.BigEndian.PutUint32(prelude[0:4], uint32(total))
	binary.BigEndian.PutUint32(prelude[4:8], uint32(hdr.Len()))
	binary.BigEndian.PutUint32(prelude[8:12], crc32.ChecksumIEEE(prelude[:8]))
	out.Write(prelude[:])
	out.Write(hdr.Bytes())
	out.Write(payload)

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(out.Bytes()))
	out.Write(trailer[:])
	return out.Bytes()
}

func assistantFrame(content string) []byte {
	return buildFrame(map[string]string{
		":message-type": "event",
		":event-type":   "assistantResponseEvent",
	}, []byte(`{"content":`+jsonQuote(content)+`}`))
}

func jsonQuote(s string) string {
	out := []byte{'"'}
	for _, c := range []byte(s) {
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(append(out, '"'))
}

func drain(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		events = append(events, ev)
	}
}

func TestDecoderDeltasThenStop(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(assistantFrame("Hello"))
	buf.Write(assistantFrame(" world"))

	events := drain(t, NewDecoder(&buf))

	if len(events) != 3 {
		t.Fatalf("expected 2 deltas + stop, got %d events: %+v", len(events), events)
	}
	if events[0].Type != EventContentDelta || events[0].Text != "Hello" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != EventContentDelta || events[1].Text != " world" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Type != EventMessageStop {
		t.Fatalf("expected terminal message stop, got %+v", events[2])
	}
}

func TestDecoderEmptyStream(t *testing.T) {
	events := drain(t, NewDecoder(bytes.NewReader(nil)))
	if len(events) != 1 || events[0].Type != EventMessageStop {
		t.Fatalf("expected exactly one message stop, got %+v", events)
	}

	// The stop is synthesized once; further reads report EOF.
	d := NewDecoder(bytes.NewReader(nil))
	if _, err := d.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on repeat, got %v", err)
	}
}

func TestDecoderSkipsCorruptFrame(t *testing.T) {
	good := assistantFrame("keep")
	bad := assistantFrame("drop")
	// Flip payload bytes so the message checksum fails but the prelude
	// stays valid, leaving the next frame boundary intact.
	bad[preludeLen+20] ^= 0xFF

	var buf bytes.Buffer
	buf.Write(bad)
	buf.Write(good)

	events := drain(t, NewDecoder(&buf))
	if len(events) != 2 {
		t.Fatalf("expected delta + stop, got %+v", events)
	}
	if events[0].Text != "keep" {
		t.Fatalf("expected the intact frame to survive, got %+v", events[0])
	}
}

func TestDecoderStopsOnCorruptPrelude(t *testing.T) {
	frame := assistantFrame("never")
	frame[0] ^= 0xFF

	events := drain(t, NewDecoder(bytes.NewReader(frame)))
	// No way to resync once the length prefix is untrustworthy.
	if len(events) != 1 || events[0].Type != EventMessageStop {
		t.Fatalf("expected only the terminal stop, got %+v", events)
	}
}

func TestDecoderExceptionFrame(t *testing.T) {
	frame := buildFrame(map[string]string{
		":message-type":   "exception",
		":exception-type": "ThrottlingException",
	}, []byte(`{"message":"slow down"}`))

	events := drain(t, NewDecoder(bytes.NewReader(frame)))
	if len(events) != 2 {
		t.Fatalf("expected error + stop, got %+v", events)
	}
	if events[0].Type != EventError || events[0].Code != "ThrottlingException" {
		t.Fatalf("unexpected error event: %+v", events[0])
	}
}

func TestDecoderIgnoresUnknownEvents(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildFrame(map[string]string{
		":message-type": "event",
		":event-type":   "messageMetadataEvent",
	}, []byte(`{"conversationId":"abc"}`)))
	buf.Write(assistantFrame("text"))

	events := drain(t, NewDecoder(&buf))
	if len(events) != 2 {
		t.Fatalf("expected delta + stop, got %+v", events)
	}
	if events[0].Text != "text" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestCollect(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(assistantFrame("Hello"))
	buf.Write(assistantFrame(", "))
	buf.Write(assistantFrame("world"))

	got := Collect(NewDecoder(&buf))
	if got != "Hello, world" {
		t.Fatalf("expected %q, got %q", "Hello, world", got)
	}
}

package stream

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
)

// The backend frames its event stream as length-prefixed messages: a
// 12-byte prelude (total length, headers length, prelude CRC32), a typed
// header block, the JSON payload, and a trailing CRC32 over the whole
// message.
const (
	preludeLen  = 12
	minFrameLen = 16
	// maxFrameLen bounds a single frame so a corrupt length prefix cannot
	// force a huge allocation.
	maxFrameLen = 16 * 1024 * 1024
)

// errBadFrame marks a frame that was fully read but failed validation.
// The stream can continue at the next frame boundary.
var errBadFrame = errors.New("malformed frame")

// Decoder turns the backend byte stream into Events. Malformed frames are
// logged and skipped; a clean end of stream yields one EventMessageStop
// followed by io.EOF.
type Decoder struct {
	r       io.Reader
	done    bool
	stopped bool
}

// NewDecoder wraps a backend response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next decoded event in arrival order.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.done {
			if !d.stopped {
				d.stopped = true
				return Event{Type: EventMessageStop}, nil
			}
			return Event{}, io.EOF
		}

		headers, payload, err := d.readFrame()
		if err != nil {
			if errors.Is(err, errBadFrame) {
				log.Printf("⚠️ Skipping malformed stream frame: %v", err)
				continue
			}
			if err != io.EOF {
				log.Printf("⚠️ Stream read error: %v", err)
			}
			d.done = true
			continue
		}

		ev, ok := decodeEvent(headers, payload)
		if !ok {
			continue
		}
		return ev, nil
	}
}

// readFrame reads and validates one frame. errBadFrame means the frame was
// consumed but unusable; any other error ends the stream.
func (d *Decoder) readFrame() (map[string]string, []byte, error) {
	var prelude [preludeLen]byte
	if _, err := io.ReadFull(d.r, prelude[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, io.EOF
		}
		return nil, nil, err
	}

	total := binary.BigEndian.Uint32(prelude[0:4])
	headerLen := binary.BigEndian.Uint32(prelude[4:8])
	preludeCRC := binary.BigEndian.Uint32(prelude[8:12])

	if crc32.ChecksumIEEE(prelude[:8]) != preludeCRC {
		// The length prefix itself is untrustworthy: no way to resync.
		return nil, nil, fmt.Errorf("prelude checksum mismatch")
	}
	if total < minFrameLen || total > maxFrameLen || headerLen > total-minFrameLen {
		return nil, nil, fmt.Errorf("invalid frame lengths (total=%d headers=%d)", total, headerLen)
	}

	rest := make([]byte, total-preludeLen)
	if _, err := io.ReadFull(d.r, rest); err != nil {
		return nil, nil, fmt.Errorf("reading frame body: %w", err)
	}

	messageCRC := binary.BigEndian.Uint32(rest[len(rest)-4:])
	crc := crc32.ChecksumIEEE(prelude[:])
	crc = crc32.Update(crc, crc32.IEEETable, rest[:len(rest)-4])
	if crc != messageCRC {
		return nil, nil, fmt.Errorf("%w: message checksum mismatch", errBadFrame)
	}

	headers, err := parseHeaders(rest[:headerLen])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	payload := rest[headerLen : len(rest)-4]
	return headers, payload, nil
}

// Header value type codes used by the framing.
const (
	headerTypeBoolTrue  = 0
	headerTypeBoolFalse = 1
	headerTypeByte      = 2
	headerTypeShort     = 3
	headerTypeInt       = 4
	headerTypeLong      = 5
	headerTypeBytes     = 6
	headerTypeString    = 7
	headerTypeTimestamp = 8
	headerTypeUUID      = 9
)

// parseHeaders decodes the typed header block. Only string values are kept;
// other types are consumed and ignored.
func parseHeaders(data []byte) (map[string]string, error) {
	headers := make(map[string]string)
	for len(data) > 0 {
		nameLen := int(data[0])
		data = data[1:]
		if len(data) < nameLen+1 {
			return nil, fmt.Errorf("truncated header name")
		}
		name := string(data[:nameLen])
		valueType := data[nameLen]
		data = data[nameLen+1:]

		switch valueType {
		case headerTypeBoolTrue, headerTypeBoolFalse:
			// no value bytes
		case headerTypeByte:
			if len(data) < 1 {
				return nil, fmt.Errorf("truncated byte header")
			}
			data = data[1:]
		case headerTypeShort:
			if len(data) < 2 {
				return nil, fmt.Errorf("truncated short header")
			}
			data = data[2:]
		case headerTypeInt:
			if len(data) < 4 {
				return nil, fmt.Errorf("truncated int header")
			}
			data = data[4:]
		case headerTypeLong, headerTypeTimestamp:
			if len(data) < 8 {
				return nil, fmt.Errorf("truncated long header")
			}
			data = data[8:]
		case headerTypeBytes, headerTypeString:
			if len(data) < 2 {
				return nil, fmt.Errorf("truncated value length")
			}
			valueLen := int(binary.BigEndian.Uint16(data))
			data = data[2:]
			if len(data) < valueLen {
				return nil, fmt.Errorf("truncated header value")
			}
			if valueType == headerTypeString {
				headers[name] = string(data[:valueLen])
			}
			data = data[valueLen:]
		case headerTypeUUID:
			if len(data) < 16 {
				return nil, fmt.Errorf("truncated uuid header")
			}
			data = data[16:]
		default:
			return nil, fmt.Errorf("unknown header value type %d", valueType)
		}
	}
	return headers, nil
}

// decodeEvent maps one validated frame to an Event. Frames outside the
// supported set decode to nothing.
func decodeEvent(headers map[string]string, payload []byte) (Event, bool) {
	if headers[":message-type"] == "exception" {
		return Event{
			Type:    EventError,
			Code:    headers[":exception-type"],
			Message: string(payload),
		}, true
	}

	switch headers[":event-type"] {
	case "assistantResponseEvent":
		var body struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			log.Printf("⚠️ Skipping undecodable assistantResponseEvent: %v", err)
			return Event{}, false
		}
		if body.Content == "" {
			return Event{}, false
		}
		return Event{Type: EventContentDelta, Text: body.Content}, true
	default:
		// messageMetadataEvent, followupPromptEvent and friends carry
		// nothing the outbound protocols need.
		return Event{}, false
	}
}

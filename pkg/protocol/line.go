package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrUnsupportedKind is returned by LineFraming.Append for message kinds
// that have no text representation (ping and pong). Line-framed connections
// are kept alive by the inactivity timeout alone.
var ErrUnsupportedKind = errors.New("kind not representable in line framing")

// LineFraming frames messages as UTF-8 text terminated by '\n'. Every
// decoded line is a chat message; the connection layer decides whether it is
// a display name or content. Outbound messages are rendered as plain text:
//
//	chat:  "sender: content"
//	join:  "* sender joined"
//	leave: "* sender left"
//	error: "! content"
type LineFraming struct {
	// MaxLineLength bounds the length of a single line, terminator
	// excluded. Zero means DefaultMaxFrameSize.
	MaxLineLength int
}

// NewLineFraming returns a LineFraming with the given line length limit.
func NewLineFraming(maxLineLength int) *LineFraming {
	return &LineFraming{MaxLineLength: maxLineLength}
}

func (f *LineFraming) limit() int {
	if f.MaxLineLength <= 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxLineLength
}

// Append renders m as a text line and appends it to dst.
func (f *LineFraming) Append(dst []byte, m *Message) ([]byte, error) {
	var line []byte
	switch m.Kind {
	case KindChat:
		if m.Sender != "" {
			line = fmt.Appendf(nil, "%s: %s", m.Sender, m.Payload)
		} else {
			line = append(line, m.Payload...)
		}
	case KindJoin:
		line = fmt.Appendf(nil, "* %s joined", m.Sender)
	case KindLeave:
		line = fmt.Appendf(nil, "* %s left", m.Sender)
	case KindError:
		line = fmt.Appendf(nil, "! %s", m.Payload)
	case KindPing, KindPong:
		return dst, ErrUnsupportedKind
	default:
		return dst, fmt.Errorf("%w: kind %d", ErrMalformedFrame, m.Kind)
	}
	if len(line) > f.limit() {
		return dst, ErrFrameTooLarge
	}
	dst = append(dst, line...)
	return append(dst, '\n'), nil
}

// Extract parses one line from the front of buf. A line without its
// terminator is incomplete unless it already exceeds the length limit.
func (f *LineFraming) Extract(buf []byte) (*Message, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > f.limit() {
			return nil, 0, ErrFrameTooLarge
		}
		return nil, 0, nil
	}
	if idx > f.limit() {
		return nil, 0, ErrFrameTooLarge
	}
	line := buf[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	m := &Message{
		Kind: KindChat,
		// Copy out of the decoder's accumulation buffer.
		Payload: append([]byte(nil), line...),
	}
	return m, idx + 1, nil
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxFrameSize is the maximum frame body size accepted when no limit
// is configured (1 MB).
const DefaultMaxFrameSize = 1024 * 1024

// binaryHeaderSize is one kind byte plus a 4-byte big-endian body length.
const binaryHeaderSize = 5

var (
	// ErrFrameTooLarge is returned when a frame's declared or actual size
	// exceeds the configured maximum. The connection that produced it must
	// be closed; the decoder makes no further progress.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrMalformedFrame is returned when frame bytes cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Framing turns Messages into self-delimited byte frames and back.
//
// Extract parses at most one complete frame from the front of buf and
// returns the decoded message together with the number of bytes consumed.
// It returns (nil, 0, nil) when buf does not yet hold a complete frame, and
// never blocks waiting for more input.
type Framing interface {
	Append(dst []byte, m *Message) ([]byte, error)
	Extract(buf []byte) (*Message, int, error)
}

// BinaryFraming frames messages as [1 byte kind][4 bytes big-endian body
// length][body], with the body in protobuf wire format.
type BinaryFraming struct {
	// MaxFrameSize bounds the body length a decoder will allocate for.
	// Zero means DefaultMaxFrameSize.
	MaxFrameSize int
}

// NewBinaryFraming returns a BinaryFraming with the given body size limit.
func NewBinaryFraming(maxFrameSize int) *BinaryFraming {
	return &BinaryFraming{MaxFrameSize: maxFrameSize}
}

func (f *BinaryFraming) limit() int {
	if f.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}

// Append encodes m and appends the framed bytes to dst.
func (f *BinaryFraming) Append(dst []byte, m *Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return dst, fmt.Errorf("%w: kind %d", ErrMalformedFrame, m.Kind)
	}
	body := appendBody(nil, m)
	if len(body) > f.limit() {
		return dst, ErrFrameTooLarge
	}
	dst = append(dst, byte(m.Kind))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...), nil
}

// Extract parses one frame from the front of buf.
func (f *BinaryFraming) Extract(buf []byte) (*Message, int, error) {
	if len(buf) < binaryHeaderSize {
		return nil, 0, nil
	}
	kind := Kind(buf[0])
	if !kind.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown kind %d", ErrMalformedFrame, buf[0])
	}
	length := binary.BigEndian.Uint32(buf[1:binaryHeaderSize])
	// Reject a hostile length field before buffering toward it.
	if int64(length) > int64(f.limit()) {
		return nil, 0, ErrFrameTooLarge
	}
	total := binaryHeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	m := &Message{Kind: kind}
	if err := parseBody(buf[binaryHeaderSize:total], m); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return m, total, nil
}

// Decoder accumulates an incrementally-arriving byte stream and yields
// complete messages as they become available.
type Decoder struct {
	framing Framing
	buf     []byte
}

// NewDecoder returns a Decoder for the given framing.
func NewDecoder(f Framing) *Decoder {
	return &Decoder{framing: f}
}

// Feed appends newly received bytes to the accumulation buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete message, or returns (nil, nil) when the
// buffer does not yet hold one. A non-nil error (ErrFrameTooLarge,
// ErrMalformedFrame) is terminal for the stream: the decoder cannot resync
// and the connection should be closed.
func (d *Decoder) Next() (*Message, error) {
	m, n, err := d.framing.Extract(d.buf)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		// Release the backing array between bursts.
		d.buf = nil
	}
	return m, nil
}

// Buffered returns the number of bytes awaiting a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

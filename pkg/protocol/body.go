package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary frame payloads are encoded in protobuf wire format. Field numbers:
//
//	1: sender_id (string)
//	2: sender    (string)
//	3: payload   (bytes)
//	4: timestamp (varint, unix milliseconds)
//
// The message kind travels in the frame header, not in the body.
const (
	fieldSenderID  = 1
	fieldSender    = 2
	fieldPayload   = 3
	fieldTimestamp = 4
)

// appendBody appends the protobuf-encoded body of m to dst.
func appendBody(dst []byte, m *Message) []byte {
	if m.SenderID != "" {
		dst = protowire.AppendTag(dst, fieldSenderID, protowire.BytesType)
		dst = protowire.AppendString(dst, m.SenderID)
	}
	if m.Sender != "" {
		dst = protowire.AppendTag(dst, fieldSender, protowire.BytesType)
		dst = protowire.AppendString(dst, m.Sender)
	}
	if len(m.Payload) > 0 {
		dst = protowire.AppendTag(dst, fieldPayload, protowire.BytesType)
		dst = protowire.AppendBytes(dst, m.Payload)
	}
	if m.Timestamp != 0 {
		dst = protowire.AppendTag(dst, fieldTimestamp, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(m.Timestamp))
	}
	return dst
}

// parseBody decodes a protobuf-encoded frame body into m. Unknown fields are
// skipped so older peers can talk to newer servers.
func parseBody(data []byte, m *Message) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("body tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldSenderID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("sender_id: %w", protowire.ParseError(n))
			}
			m.SenderID = v
			data = data[n:]
		case num == fieldSender && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("sender: %w", protowire.ParseError(n))
			}
			m.Sender = v
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("payload: %w", protowire.ParseError(n))
			}
			// Copy out of the decoder's accumulation buffer.
			m.Payload = append([]byte(nil), v...)
			data = data[n:]
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("timestamp: %w", protowire.ParseError(n))
			}
			m.Timestamp = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

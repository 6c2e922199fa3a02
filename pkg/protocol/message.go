// Package protocol defines the chat message model and the wire framings
// used to carry it: a length-prefixed binary framing and a newline-delimited
// text framing.
package protocol

// Kind identifies the type of a message. The values are part of the binary
// wire format and must not be reordered.
type Kind uint8

const (
	KindChat  Kind = 1
	KindJoin  Kind = 2
	KindLeave Kind = 3
	KindPing  Kind = 4
	KindPong  Kind = 5
	KindError Kind = 6
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "CHAT"
	case KindJoin:
		return "JOIN"
	case KindLeave:
		return "LEAVE"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is one of the defined message kinds.
func (k Kind) Valid() bool {
	return k >= KindChat && k <= KindError
}

// Message is one application-level chat message. Messages are created by a
// framing decoder or by server-internal events (join, leave, ping) that have
// no wire origin.
type Message struct {
	Kind      Kind
	SenderID  string // connection id of the originator, empty for server events
	Sender    string // display name of the originator
	Payload   []byte
	Timestamp int64 // unix milliseconds
}

// Package chat provides the core broadcast domain: connections, the
// registry of live peers, the broadcast router and the heartbeat supervisor.
package chat

import (
	"net"
	"time"
)

// Conn abstracts a bidirectional byte-stream connection. Raw TCP and
// WebSocket transports both implement it, isolating transport details from
// the chat logic.
type Conn interface {
	// Read receives bytes from the peer. It blocks until data arrives,
	// the peer closes, or a read deadline expires.
	Read(buf []byte) (int, error)

	// Write sends bytes to the peer.
	Write(data []byte) (int, error)

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() net.Addr

	// SetReadDeadline sets the deadline for future Read calls. A deadline
	// in the past unblocks a pending Read, which is how a connection's
	// read loop is interrupted on close.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the deadline for future Write calls.
	SetWriteDeadline(t time.Time) error
}

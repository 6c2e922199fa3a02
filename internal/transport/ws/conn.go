// Package ws adapts an upgraded WebSocket connection to the chat transport
// interface using gobwas/ws. Chat frames ride inside WebSocket binary
// messages, so the same codec serves both transports.
package ws

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn wraps an upgraded server-side WebSocket connection.
type Conn struct {
	conn net.Conn
	rw   io.ReadWriter // reads go through the handshake's buffered reader

	mu      sync.Mutex
	readBuf []byte
	readPos int
}

// NewConn wraps an upgraded connection. rw carries any bytes the handshake
// left buffered; writes still target conn directly.
func NewConn(conn net.Conn, rw io.ReadWriter) *Conn {
	if rw == nil {
		rw = conn
	}
	return &Conn{conn: conn, rw: rw}
}

// Read implements chat.Conn. One WebSocket binary message may carry several
// chat frames; surplus bytes are buffered for the next call.
func (c *Conn) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readPos < len(c.readBuf) {
		n := copy(buf, c.readBuf[c.readPos:])
		c.readPos += n
		if c.readPos >= len(c.readBuf) {
			c.readBuf = nil
			c.readPos = 0
		}
		return n, nil
	}

	data, err := wsutil.ReadClientBinary(c.rw)
	if err != nil {
		return 0, err
	}

	n := copy(buf, data)
	if n < len(data) {
		c.readBuf = data[n:]
		c.readPos = 0
	}
	return n, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(data []byte) (int, error) {
	if err := wsutil.WriteServerBinary(c.conn, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close implements chat.Conn. A close frame is sent best-effort.
func (c *Conn) Close() error {
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetReadDeadline implements chat.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements chat.Conn.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

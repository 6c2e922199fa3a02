// Package tcp adapts a raw TCP connection to the chat transport interface.
package tcp

import (
	"io"
	"net"
	"time"
)

// Conn wraps a net.Conn. The reader may differ from the conn when the
// server has already buffered bytes for protocol detection.
type Conn struct {
	conn   net.Conn
	reader io.Reader
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: conn}
}

// NewConnWithReader wraps a net.Conn whose first bytes were already peeked
// into reader.
func NewConnWithReader(conn net.Conn, reader io.Reader) *Conn {
	return &Conn{conn: conn, reader: reader}
}

// Read implements chat.Conn.
func (c *Conn) Read(buf []byte) (int, error) {
	return c.reader.Read(buf)
}

// Write implements chat.Conn.
func (c *Conn) Write(data []byte) (int, error) {
	return c.conn.Write(data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
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

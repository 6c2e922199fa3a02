package chat

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is a connection's lifecycle state.
type State int32

const (
	// StateAwaitingName is the initial state; the first message's payload
	// becomes the display name.
	StateAwaitingName State = iota
	// StateActive connections participate in broadcasts.
	StateActive
	// StateClosing connections drain in-flight writes; new writes are
	// dropped silently.
	StateClosing
	// StateClosed is terminal; the underlying connection is released.
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateAwaitingName:
		return "awaiting-name"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrSlowConsumer is returned by Send when a connection's outbound buffer is
// full. The caller treats the connection as unresponsive and evicts it; the
// broadcast path itself never blocks on one peer.
var ErrSlowConsumer = errors.New("outbound buffer full")

// Client owns one peer's connection: its socket, outbound buffer, display
// name and lifecycle state. The read loop and heartbeat supervisor hold
// id-based references to it; the server goroutine that accepted it is the
// only owner.
type Client struct {
	ID string

	conn         Conn
	writeTimeout time.Duration

	mu    sync.RWMutex
	name  string
	named atomic.Bool

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanoseconds

	outgoing   chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

// NewClient wraps an accepted connection. outboundCap bounds the write
// buffer; writeTimeout bounds each physical write during drain.
func NewClient(id string, conn Conn, outboundCap int, writeTimeout time.Duration) *Client {
	if outboundCap <= 0 {
		outboundCap = 1
	}
	c := &Client{
		ID:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		outgoing:     make(chan []byte, outboundCap),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	c.Touch()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// SetName adopts the display name and activates the connection. It succeeds
// only once, for the transition out of StateAwaitingName.
func (c *Client) SetName(name string) bool {
	if !c.state.CompareAndSwap(int32(StateAwaitingName), int32(StateActive)) {
		return false
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	c.named.Store(true)
	return true
}

// Name returns the display name, empty until the connection activates.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Named reports whether the connection ever reached StateActive. A
// connection that disconnects before naming itself produces no Leave
// broadcast.
func (c *Client) Named() bool {
	return c.named.Load()
}

// Touch records peer activity. Called by the read path for every received
// chunk and when a pong arrives.
func (c *Client) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent received byte.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RemoteAddr returns the peer's address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send enqueues data for delivery. It never blocks: writes after close are
// dropped silently, and a full buffer returns ErrSlowConsumer so the caller
// can evict the connection instead of stalling the broadcast.
func (c *Client) Send(data []byte) error {
	if c.State() >= StateClosing {
		return nil
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close transitions the connection to StateClosing and interrupts a blocked
// read so the read loop can run its cleanup. Idempotent and safe from any
// state; eviction and peer-initiated close both funnel through here.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		for {
			s := c.state.Load()
			if s >= int32(StateClosing) {
				break
			}
			if c.state.CompareAndSwap(s, int32(StateClosing)) {
				break
			}
		}
		close(c.done)
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

// Done is closed when the connection starts closing.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WriterDone is closed when the write loop has drained and exited.
func (c *Client) WriterDone() <-chan struct{} {
	return c.writerDone
}

// Release marks the connection closed and releases the socket. Callers must
// remove the client from the registry first.
func (c *Client) Release() {
	c.state.Store(int32(StateClosed))
	_ = c.conn.Close()
}

// WriteLoop moves enqueued data onto the socket until the connection closes.
// After close it drains whatever is already queued, each write bounded by
// the write timeout, then exits.
func (c *Client) WriteLoop() {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.outgoing:
			if !c.write(data) {
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.outgoing:
					if !c.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(data []byte) bool {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		c.Close()
		return false
	}
	return true
}

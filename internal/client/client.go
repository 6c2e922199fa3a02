// Package client implements a chat client speaking the binary frame
// protocol over raw TCP or WebSocket. Line-framed sessions are meant for
// plain-text tools like netcat and have no client library support.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/pkg/protocol"
)

// Options tunes a client. The zero value is usable.
type Options struct {
	// MaxFrameSize caps inbound frames; 0 uses the protocol default.
	MaxFrameSize int
	// DisableAutoPong stops the client from answering server probes. A
	// client that disables this and stays quiet will be evicted.
	DisableAutoPong bool
	// Buffer is the capacity of the Messages channel; 0 means 16.
	Buffer int
	// Logger receives receive-loop diagnostics; nil discards them.
	Logger *zerolog.Logger
}

func (o Options) normalized() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Client is a connection to a chat server. Create one with Dial or
// DialWebSocket, adopt a name with SetName, then exchange messages.
type Client struct {
	framing  protocol.Framing
	logger   zerolog.Logger
	autoPong bool

	writeMu sync.Mutex
	tr      io.ReadWriteCloser

	messages  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Dial connects to a server over raw TCP.
func Dial(addr string, opts Options) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return newClient(conn, opts), nil
}

// DialWebSocket connects to a server over WebSocket. The URL uses the ws
// scheme, e.g. ws://localhost:3000/.
func DialWebSocket(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return newClient(newWSTransport(conn, r), opts), nil
}

func newClient(tr io.ReadWriteCloser, opts Options) *Client {
	opts = opts.normalized()
	c := &Client{
		framing:  protocol.NewBinaryFraming(opts.MaxFrameSize),
		logger:   *opts.Logger,
		autoPong: !opts.DisableAutoPong,
		tr:       tr,
		messages: make(chan *protocol.Message, opts.Buffer),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.receiveLoop()
	return c
}

// SetName sends the display name. The server adopts the first chat frame's
// payload as the name, so this must precede any Send call.
func (c *Client) SetName(name string) error {
	return c.send(&protocol.Message{Kind: protocol.KindChat, Payload: []byte(name)})
}

// Send sends a chat message.
func (c *Client) Send(text string) error {
	return c.send(&protocol.Message{Kind: protocol.KindChat, Payload: []byte(text)})
}

// Ping sends a client-initiated liveness probe; the server answers with a
// pong frame.
func (c *Client) Ping() error {
	return c.send(&protocol.Message{Kind: protocol.KindPing})
}

// Messages returns the channel of inbound messages. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan *protocol.Message {
	return c.messages
}

// Close tears down the connection and waits for the receive loop to finish.
// Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.tr.Close()
		c.wg.Wait()
	})
	return c.closeErr
}

func (c *Client) send(m *protocol.Message) error {
	m.Timestamp = time.Now().UnixMilli()
	data, err := c.framing.Append(nil, m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.tr.Write(data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	defer close(c.messages)

	dec := protocol.NewDecoder(c.framing)
	buf := make([]byte, 4096)
	for {
		n, err := c.tr.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				m, derr := dec.Next()
				if derr != nil {
					c.logger.Warn().Err(derr).Msg("server sent a malformed frame")
					return
				}
				if m == nil {
					break
				}
				if !c.deliver(m) {
					return
				}
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if err != io.EOF {
					c.logger.Debug().Err(err).Msg("read failed")
				}
			}
			return
		}
	}
}

// deliver routes one inbound message; it reports false when the client is
// closing.
func (c *Client) deliver(m *protocol.Message) bool {
	if m.Kind == protocol.KindPing && c.autoPong {
		if err := c.send(&protocol.Message{Kind: protocol.KindPong}); err != nil {
			return false
		}
		return true
	}
	select {
	case c.messages <- m:
		return true
	case <-c.done:
		return false
	}
}

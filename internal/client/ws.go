package client

import (
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsTransport adapts a client-side WebSocket to the io.ReadWriteCloser the
// receive loop expects. Server messages arrive as binary frames; a frame
// larger than the caller's buffer is carried over to the next Read.
type wsTransport struct {
	conn    net.Conn
	rw      readWriter
	surplus []byte
}

type readWriter struct {
	io.Reader
	io.Writer
}

func newWSTransport(conn net.Conn, r io.Reader) *wsTransport {
	return &wsTransport{conn: conn, rw: readWriter{Reader: r, Writer: conn}}
}

func (t *wsTransport) Read(p []byte) (int, error) {
	if len(t.surplus) == 0 {
		data, err := wsutil.ReadServerBinary(t.rw)
		if err != nil {
			return 0, err
		}
		t.surplus = data
	}
	n := copy(p, t.surplus)
	t.surplus = t.surplus[n:]
	return n, nil
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := wsutil.WriteClientBinary(t.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	_ = ws.WriteFrame(t.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(nil)))
	return t.conn.Close()
}

package chat_test

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// mockConn implements chat.Conn for testing without a real socket.
type mockConn struct {
	mu        sync.Mutex
	written   [][]byte
	readCh    chan []byte
	closed    bool
	closedCh  chan struct{}
	interrupt chan struct{}
	wakeOnce  sync.Once
	failWrite bool
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh:    make(chan []byte, 16),
		closedCh:  make(chan struct{}),
		interrupt: make(chan struct{}),
	}
}

var errReadTimeout = errors.New("mock: read deadline exceeded")

func (m *mockConn) Read(buf []byte) (int, error) {
	select {
	case data := <-m.readCh:
		return copy(buf, data), nil
	case <-m.closedCh:
		return 0, io.EOF
	case <-m.interrupt:
		return 0, errReadTimeout
	}
}

func (m *mockConn) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite || m.closed {
		return 0, errors.New("mock: write on closed connection")
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return len(data), nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}

func (m *mockConn) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		m.wakeOnce.Do(func() { close(m.interrupt) })
	}
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) writtenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

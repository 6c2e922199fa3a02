package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/internal/chat"
	"github.com/wirehub/chatd/internal/metrics"
	tcptransport "github.com/wirehub/chatd/internal/transport/tcp"
	wstransport "github.com/wirehub/chatd/internal/transport/ws"
	"github.com/wirehub/chatd/pkg/protocol"
)

// Server accepts raw TCP and WebSocket connections on a single port and
// feeds them into one broadcast domain.
type Server struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	framing    protocol.Framing
	registry   *chat.Registry
	router     *chat.Router
	supervisor *chat.Supervisor
	history    *chat.History

	mu         sync.Mutex
	listener   net.Listener
	metricsSrv *http.Server

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a server from the given configuration. m may be nil to disable
// instrumentation.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	framing, err := cfg.NewFraming()
	if err != nil {
		return nil, err
	}

	registry := chat.NewRegistry(cfg.Limits.MaxConnections)
	router := chat.NewRouter(registry, framing, cfg.Chat.EchoToSender, logger, m)
	supervisor := chat.NewSupervisor(registry, framing, chat.SupervisorOptions{
		ProbeInterval:   cfg.ProbeInterval(),
		HardTimeout:     cfg.HardTimeout(),
		MissedThreshold: cfg.Heartbeat.MissedProbeThreshold,
		// Line framing has no ping representation; those connections are
		// supervised by the inactivity backstop alone.
		Probes: cfg.Server.Framing == FramingBinary,
	}, logger, m)

	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		framing:    framing,
		registry:   registry,
		router:     router,
		supervisor: supervisor,
		history:    chat.NewHistory(cfg.Chat.HistorySize),
		quit:       make(chan struct{}),
	}, nil
}

// Start binds the listening endpoint and serves until Stop is called. A bind
// failure is fatal and returned immediately.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr(), err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("framing", s.cfg.Server.Framing).
		Msg("server listening")

	s.startMetrics()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervisor.Run()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.metrics.RecordConnectionAccepted()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) startMetrics() {
	if s.cfg.Server.MetricsPort <= 0 || s.metrics == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.MetricsPort),
		Handler: mux,
	}
	s.mu.Lock()
	s.metricsSrv = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}

// Stop performs a graceful shutdown: stop accepting, signal every connection
// to close, and wait for in-flight writes to drain, bounded by the shutdown
// timeout. Safe to call concurrently with an in-progress accept.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.metricsSrv != nil {
			_ = s.metricsSrv.Close()
		}
		s.mu.Unlock()

		s.supervisor.Stop()
		for _, c := range s.registry.Snapshot() {
			c.Close()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.logger.Info().Msg("server stopped")
		case <-time.After(s.cfg.ShutdownTimeout()):
			s.logger.Warn().Msg("shutdown timeout exceeded, abandoning drain")
		}
	})
}

// Addr returns the listening address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of registered connections.
func (s *Server) ClientCount() int {
	return s.registry.Len()
}

// isHTTPRequest reports whether the peeked bytes open an HTTP request.
// WebSocket clients start with a GET upgrade request; chat frames are either
// binary or arbitrary text lines, so only exact method prefixes match.
func isHTTPRequest(peek []byte) bool {
	return bytes.HasPrefix(peek, []byte("GET ")) ||
		bytes.HasPrefix(peek, []byte("POST")) ||
		bytes.HasPrefix(peek, []byte("PUT ")) ||
		bytes.HasPrefix(peek, []byte("HEAD"))
}

// bufferedConn lets the WebSocket handshake and transport read through the
// bufio.Reader that already holds peeked bytes.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

// handleConn determines the transport for an accepted connection and serves
// it until disconnect.
func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()

	reader := bufio.NewReader(raw)
	peek, err := reader.Peek(4)
	if err != nil {
		_ = raw.Close()
		return
	}

	var conn chat.Conn
	if isHTTPRequest(peek) {
		bc := &bufferedConn{Conn: raw, reader: reader}
		if _, err := ws.Upgrade(bc); err != nil {
			s.logger.Warn().Err(err).Msg("websocket upgrade failed")
			_ = raw.Close()
			return
		}
		conn = wstransport.NewConn(raw, bc)
	} else {
		conn = tcptransport.NewConnWithReader(raw, reader)
	}

	s.serveClient(conn)
}

// serveClient registers the connection and runs its read loop. The deferred
// cleanup is the single exit path for peer close, eviction and shutdown:
// deregister first, then the Leave broadcast, then release the socket.
func (s *Server) serveClient(conn chat.Conn) {
	client := chat.NewClient(uuid.NewString(), conn, s.cfg.Limits.OutboundBufferCap, s.cfg.WriteTimeout())

	if err := s.registry.Insert(client); err != nil {
		s.rejectAtCapacity(conn)
		return
	}
	s.metrics.RecordActiveConnections(s.registry.Len())
	s.logger.Info().
		Str("client_id", client.ID).
		Stringer("remote", conn.RemoteAddr()).
		Msg("connection registered")

	go client.WriteLoop()
	s.readLoop(client, conn)

	client.Close()
	s.registry.Remove(client.ID)
	s.supervisor.Forget(client.ID)
	if client.Named() {
		s.router.Route(&protocol.Message{
			Kind:      protocol.KindLeave,
			SenderID:  client.ID,
			Sender:    client.Name(),
			Timestamp: time.Now().UnixMilli(),
		})
	}
	<-client.WriterDone()
	client.Release()

	s.metrics.RecordActiveConnections(s.registry.Len())
	s.logger.Info().
		Str("client_id", client.ID).
		Str("name", client.Name()).
		Msg("connection closed")
}

func (s *Server) rejectAtCapacity(conn chat.Conn) {
	s.metrics.RecordConnectionRejected()
	s.logger.Warn().
		Stringer("remote", conn.RemoteAddr()).
		Int("limit", s.cfg.Limits.MaxConnections).
		Msg("connection rejected at capacity")

	notice := &protocol.Message{
		Kind:      protocol.KindError,
		Payload:   []byte("server at capacity"),
		Timestamp: time.Now().UnixMilli(),
	}
	if data, err := s.framing.Append(nil, notice); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
		_, _ = conn.Write(data)
	}
	_ = conn.Close()
}

// readLoop pulls bytes off the connection, feeds the frame decoder and
// dispatches complete messages. It returns on peer close, read interruption
// or a framing violation.
func (s *Server) readLoop(client *chat.Client, conn chat.Conn) {
	dec := protocol.NewDecoder(s.framing)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			client.Touch()
			dec.Feed(buf[:n])
			for {
				m, derr := dec.Next()
				if derr != nil {
					// FrameTooLarge and MalformedFrame isolate to this
					// connection only.
					s.logger.Warn().
						Str("client_id", client.ID).
						Err(derr).
						Msg("closing connection on framing violation")
					s.metrics.RecordEviction("bad-frame")
					return
				}
				if m == nil {
					break
				}
				s.handleMessage(client, m)
			}
		}
		if err != nil {
			if err != io.EOF && client.State() < chat.StateClosing {
				s.logger.Debug().Str("client_id", client.ID).Err(err).Msg("read failed")
			}
			return
		}
	}
}

// handleMessage applies the connection state machine to one decoded message.
func (s *Server) handleMessage(client *chat.Client, m *protocol.Message) {
	switch m.Kind {
	case protocol.KindPing:
		pong := &protocol.Message{Kind: protocol.KindPong, Timestamp: time.Now().UnixMilli()}
		if data, err := s.framing.Append(nil, pong); err == nil {
			_ = client.Send(data)
		}
	case protocol.KindPong:
		s.supervisor.ObservePong(client.ID)
	case protocol.KindChat:
		if client.State() == chat.StateAwaitingName {
			s.activate(client, m)
			return
		}
		out := &protocol.Message{
			Kind:      protocol.KindChat,
			SenderID:  client.ID,
			Sender:    client.Name(),
			Payload:   m.Payload,
			Timestamp: time.Now().UnixMilli(),
		}
		s.history.Push(out)
		s.router.Route(out)
	default:
		// Join, leave and error frames are server-emitted; a peer sending
		// one is confused but harmless.
		s.logger.Debug().
			Str("client_id", client.ID).
			Stringer("kind", m.Kind).
			Msg("ignoring server-only kind from peer")
	}
}

// activate adopts the first message's payload as the display name, replays
// recent history to the newcomer and announces the join.
func (s *Server) activate(client *chat.Client, m *protocol.Message) {
	name := strings.TrimSpace(string(m.Payload))
	if name == "" {
		name = "guest-" + client.ID[:8]
	}
	if !client.SetName(name) {
		return
	}
	s.logger.Info().
		Str("client_id", client.ID).
		Str("name", name).
		Msg("peer joined")

	for _, old := range s.history.Recent() {
		if data, err := s.framing.Append(nil, old); err == nil {
			if client.Send(data) != nil {
				break
			}
		}
	}

	s.router.Route(&protocol.Message{
		Kind:      protocol.KindJoin,
		SenderID:  client.ID,
		Sender:    name,
		Timestamp: time.Now().UnixMilli(),
	})
}

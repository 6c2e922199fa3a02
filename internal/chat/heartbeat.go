package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/internal/metrics"
	"github.com/wirehub/chatd/pkg/protocol"
)

// heartbeatRecord tracks probe state for one connection. Records are owned
// by the supervisor; nothing else reads or writes them.
type heartbeatRecord struct {
	lastPingSent     time.Time
	lastPongReceived time.Time
	missed           int
}

// SupervisorOptions configures the heartbeat supervisor.
type SupervisorOptions struct {
	// ProbeInterval is both the sweep period and the minimum spacing
	// between pings to one connection.
	ProbeInterval time.Duration
	// HardTimeout is the inactivity backstop: a connection with no
	// received bytes for this long is evicted regardless of probe state.
	HardTimeout time.Duration
	// MissedThreshold evicts after this many unanswered probes. Zero
	// disables probe-based eviction and relies on the backstop alone.
	MissedThreshold int
	// Probes enables active pinging. Disabled for line framing, which has
	// no ping representation.
	Probes bool
}

// Supervisor periodically sweeps the registry, evicting connections that
// exceed the inactivity timeout and probing the rest with pings.
type Supervisor struct {
	registry *Registry
	framing  protocol.Framing
	opts     SupervisorOptions
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	records map[string]*heartbeatRecord

	done     chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates a heartbeat supervisor over the given registry.
func NewSupervisor(reg *Registry, framing protocol.Framing, opts SupervisorOptions, logger zerolog.Logger, m *metrics.Metrics) *Supervisor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = 60 * time.Second
	}
	return &Supervisor{
		registry: reg,
		framing:  framing,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		records:  make(map[string]*heartbeatRecord),
		done:     make(chan struct{}),
	}
}

// Run executes the sweep loop until Stop is called. Call in a goroutine.
func (s *Supervisor) Run() {
	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Stop halts the sweep loop. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// ObservePong records a pong from the given connection and resets its
// missed-probe count.
func (s *Supervisor) ObservePong(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.lastPongReceived = time.Now()
	rec.missed = 0
}

// Forget drops the probe record for a removed connection.
func (s *Supervisor) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Sweep runs one supervision pass. Exported for tests; Run calls it on every
// tick.
func (s *Supervisor) Sweep(now time.Time) {
	live := make(map[string]struct{})
	for _, c := range s.registry.Snapshot() {
		if c.State() >= StateClosing {
			continue
		}
		live[c.ID] = struct{}{}

		if now.Sub(c.LastActivity()) > s.opts.HardTimeout {
			s.evict(c, "inactivity-timeout")
			continue
		}
		if !s.opts.Probes {
			continue
		}
		s.probe(c, now)
	}

	// Drop records for connections no longer in the registry.
	s.mu.Lock()
	for id := range s.records {
		if _, ok := live[id]; !ok {
			delete(s.records, id)
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) probe(c *Client, now time.Time) {
	s.mu.Lock()
	rec, ok := s.records[c.ID]
	if !ok {
		rec = &heartbeatRecord{}
		s.records[c.ID] = rec
	}
	if s.opts.MissedThreshold > 0 && rec.missed >= s.opts.MissedThreshold {
		s.mu.Unlock()
		s.evict(c, "missed-pings")
		return
	}
	due := rec.lastPingSent.IsZero() || now.Sub(rec.lastPingSent) >= s.opts.ProbeInterval
	if !due {
		s.mu.Unlock()
		return
	}
	unanswered := !rec.lastPingSent.IsZero() && rec.lastPongReceived.Before(rec.lastPingSent)
	if unanswered {
		rec.missed++
	}
	rec.lastPingSent = now
	s.mu.Unlock()

	ping := &protocol.Message{Kind: protocol.KindPing, Timestamp: now.UnixMilli()}
	data, err := s.framing.Append(nil, ping)
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		s.evict(c, "slow-consumer")
	}
}

func (s *Supervisor) evict(c *Client, reason string) {
	s.logger.Info().
		Str("client_id", c.ID).
		Str("name", c.Name()).
		Str("reason", reason).
		Msg("evicting connection")
	s.metrics.RecordEviction(reason)
	s.Forget(c.ID)
	c.Close()
}

package chat_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/internal/chat"
	"github.com/wirehub/chatd/pkg/protocol"
)

func newSupervisorFixture(opts chat.SupervisorOptions) (*chat.Registry, *chat.Supervisor, *protocol.BinaryFraming) {
	framing := protocol.NewBinaryFraming(0)
	reg := chat.NewRegistry(0)
	sup := chat.NewSupervisor(reg, framing, opts, zerolog.Nop(), nil)
	return reg, sup, framing
}

func TestSupervisorHardTimeoutEviction(t *testing.T) {
	reg, sup, _ := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval: 30 * time.Second,
		HardTimeout:   60 * time.Second,
	})
	c := chat.NewClient("c1", newMockConn(), 8, time.Second)
	c.SetName("alice")
	if err := reg.Insert(c); err != nil {
		t.Fatal(err)
	}

	base := time.Now()

	// Still within the timeout: untouched.
	sup.Sweep(base.Add(30 * time.Second))
	if got := c.State(); got != chat.StateActive {
		t.Fatalf("state after early sweep = %v, want active", got)
	}

	// Past the backstop: evicted on the next tick.
	sup.Sweep(base.Add(61 * time.Second))
	if got := c.State(); got != chat.StateClosing {
		t.Fatalf("state after timeout sweep = %v, want closing", got)
	}
}

func TestSupervisorActivityDefersEviction(t *testing.T) {
	reg, sup, _ := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval: 30 * time.Second,
		HardTimeout:   60 * time.Second,
	})
	c := chat.NewClient("c1", newMockConn(), 8, time.Second)
	c.SetName("alice")
	if err := reg.Insert(c); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	c.Touch() // fresh activity now

	sup.Sweep(base.Add(50 * time.Second))
	if got := c.State(); got != chat.StateActive {
		t.Fatalf("state = %v, want active (only 50s idle)", got)
	}
}

func TestSupervisorSendsProbes(t *testing.T) {
	reg, sup, framing := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval: 30 * time.Second,
		HardTimeout:   10 * time.Minute,
		Probes:        true,
	})
	conn := newMockConn()
	c := chat.NewClient("c1", conn, 8, time.Second)
	c.SetName("alice")
	if err := reg.Insert(c); err != nil {
		t.Fatal(err)
	}
	go c.WriteLoop()

	base := time.Now()
	sup.Sweep(base)

	deadline := time.After(time.Second)
	for {
		frames := conn.writtenFrames()
		if len(frames) > 0 {
			m, _, err := framing.Extract(frames[0])
			if err != nil {
				t.Fatalf("decode probe: %v", err)
			}
			if m.Kind != protocol.KindPing {
				t.Fatalf("probe kind = %v, want PING", m.Kind)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no ping written within 1s of sweep")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A second sweep inside the probe interval must not ping again.
	sup.Sweep(base.Add(10 * time.Second))
	time.Sleep(20 * time.Millisecond)
	if got := len(conn.writtenFrames()); got != 1 {
		t.Fatalf("wrote %d frames, want 1 (probe interval not yet elapsed)", got)
	}
}

func TestSupervisorMissedProbeEviction(t *testing.T) {
	reg, sup, _ := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval:   30 * time.Second,
		HardTimeout:     10 * time.Minute,
		MissedThreshold: 2,
		Probes:          true,
	})
	c := chat.NewClient("c1", newMockConn(), 8, time.Second)
	c.SetName("alice")
	if err := reg.Insert(c); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	sup.Sweep(base)                        // ping 1
	sup.Sweep(base.Add(30 * time.Second))  // unanswered -> missed 1, ping 2
	sup.Sweep(base.Add(60 * time.Second))  // unanswered -> missed 2, ping 3
	sup.Sweep(base.Add(90 * time.Second))  // threshold reached -> evict
	if got := c.State(); got != chat.StateClosing {
		t.Fatalf("state = %v, want closing after %d missed probes", got, 2)
	}
}

func TestSupervisorPongResetsMissedCount(t *testing.T) {
	reg, sup, _ := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval:   30 * time.Second,
		HardTimeout:     10 * time.Minute,
		MissedThreshold: 1,
		Probes:          true,
	})
	c := chat.NewClient("c1", newMockConn(), 8, time.Second)
	c.SetName("alice")
	if err := reg.Insert(c); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	sup.Sweep(base)
	sup.ObservePong(c.ID) // answered promptly

	sup.Sweep(base.Add(30 * time.Second))
	if got := c.State(); got != chat.StateActive {
		t.Fatalf("state = %v, want active (pong answered the probe)", got)
	}
}

func TestSupervisorSkipsClosingConnections(t *testing.T) {
	reg, sup, _ := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval: time.Second,
		HardTimeout:   time.Second,
		Probes:        true,
	})
	c := chat.NewClient("c1", newMockConn(), 8, time.Second)
	c.SetName("alice")
	if err := reg.Insert(c); err != nil {
		t.Fatal(err)
	}
	c.Close()

	// Sweeping a closing connection is a no-op, not a double eviction.
	sup.Sweep(time.Now().Add(time.Hour))
	if got := c.State(); got != chat.StateClosing {
		t.Fatalf("state = %v, want closing", got)
	}
}

func TestSupervisorRunStops(t *testing.T) {
	_, sup, _ := newSupervisorFixture(chat.SupervisorOptions{
		ProbeInterval: 10 * time.Millisecond,
		HardTimeout:   time.Minute,
	})
	done := make(chan struct{})
	go func() {
		sup.Run()
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	sup.Stop()
	sup.Stop() // idempotent

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

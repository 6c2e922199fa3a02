package chat_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirehub/chatd/internal/chat"
	"github.com/wirehub/chatd/pkg/protocol"
)

func newRouterFixture(echo bool) (*chat.Registry, *chat.Router, *protocol.BinaryFraming) {
	framing := protocol.NewBinaryFraming(0)
	reg := chat.NewRegistry(0)
	router := chat.NewRouter(reg, framing, echo, zerolog.Nop(), nil)
	return reg, router, framing
}

func addActive(t *testing.T, reg *chat.Registry, id, name string, cap int) (*chat.Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	c := chat.NewClient(id, conn, cap, time.Second)
	require.True(t, c.SetName(name))
	require.NoError(t, reg.Insert(c))
	return c, conn
}

func queued(c *chat.Client, conn *mockConn) int {
	// Flush the queue through the write loop, then count frames.
	done := make(chan struct{})
	go func() {
		c.WriteLoop()
		close(done)
	}()
	c.Close()
	<-done
	return len(conn.writtenFrames())
}

func TestRouteExcludesSender(t *testing.T) {
	reg, router, _ := newRouterFixture(false)
	a, connA := addActive(t, reg, "a", "alice", 8)
	b, connB := addActive(t, reg, "b", "bob", 8)
	c, connC := addActive(t, reg, "c", "carol", 8)

	report := router.Route(&protocol.Message{
		Kind:     protocol.KindChat,
		SenderID: "a",
		Sender:   "alice",
		Payload:  []byte("hello"),
	})

	assert.Equal(t, 2, report.Recipients)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 0, queued(a, connA), "sender must not receive its own chat")
	assert.Equal(t, 1, queued(b, connB))
	assert.Equal(t, 1, queued(c, connC))
}

func TestRouteEchoToSender(t *testing.T) {
	reg, router, _ := newRouterFixture(true)
	a, connA := addActive(t, reg, "a", "alice", 8)
	b, connB := addActive(t, reg, "b", "bob", 8)

	report := router.Route(&protocol.Message{
		Kind:     protocol.KindChat,
		SenderID: "a",
		Sender:   "alice",
		Payload:  []byte("hello"),
	})

	assert.Equal(t, 2, report.Recipients)
	assert.Equal(t, 1, queued(a, connA), "echo config delivers back to the sender")
	assert.Equal(t, 1, queued(b, connB))
}

func TestRouteJoinReachesEveryone(t *testing.T) {
	reg, router, framing := newRouterFixture(false)
	b, connB := addActive(t, reg, "b", "bob", 8)

	report := router.Route(&protocol.Message{
		Kind:     protocol.KindJoin,
		SenderID: "a",
		Sender:   "alice",
	})
	require.Equal(t, 1, report.Recipients)

	require.Equal(t, 1, queued(b, connB))
	m, _, err := framing.Extract(connB.writtenFrames()[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.KindJoin, m.Kind)
	assert.Equal(t, "alice", m.Sender)
}

func TestRouteSkipsUnnamedConnections(t *testing.T) {
	reg, router, _ := newRouterFixture(false)
	pending := chat.NewClient("p", newMockConn(), 8, time.Second) // still awaiting name
	require.NoError(t, reg.Insert(pending))
	b, connB := addActive(t, reg, "b", "bob", 8)

	report := router.Route(&protocol.Message{
		Kind:     protocol.KindChat,
		SenderID: "x",
		Sender:   "xavier",
		Payload:  []byte("hi"),
	})

	assert.Equal(t, 1, report.Recipients)
	assert.Equal(t, 1, queued(b, connB))
}

func TestRouteSlowConsumerIsolation(t *testing.T) {
	reg, router, _ := newRouterFixture(false)

	// Slow peer: buffer of one, no write loop, already saturated.
	slow, _ := addActive(t, reg, "slow", "sloth", 1)
	require.NoError(t, slow.Send([]byte("plug")))

	fast := make([]*chat.Client, 0, 4)
	conns := make([]*mockConn, 0, 4)
	for i := 0; i < 4; i++ {
		c, conn := addActive(t, reg, fmt.Sprintf("fast%d", i), "peer", 8)
		fast = append(fast, c)
		conns = append(conns, conn)
	}

	start := time.Now()
	report := router.Route(&protocol.Message{
		Kind:     protocol.KindChat,
		SenderID: "x",
		Sender:   "xavier",
		Payload:  []byte("hello"),
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "one saturated peer must not stall the broadcast")
	assert.Equal(t, 4, report.Recipients)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "slow", report.Failures[0].ClientID)
	assert.ErrorIs(t, report.Failures[0].Err, chat.ErrSlowConsumer)
	assert.Equal(t, chat.StateClosing, slow.State(), "slow consumer is scheduled for eviction")

	for i, c := range fast {
		assert.Equal(t, 1, queued(c, conns[i]))
	}
}

func TestRouteUnsupportedKindOnLineFraming(t *testing.T) {
	framing := protocol.NewLineFraming(0)
	reg := chat.NewRegistry(0)
	router := chat.NewRouter(reg, framing, false, zerolog.Nop(), nil)
	_, connB := addActive(t, reg, "b", "bob", 8)

	report := router.Route(&protocol.Message{Kind: protocol.KindPing})
	assert.Equal(t, 0, report.Recipients)
	assert.Empty(t, connB.writtenFrames())
}

package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// eventLog 并发安全地收集事件
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(t EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func newTestHub(t *testing.T, net *fakeNet, opts ...Option) *Hub {
	t.Helper()
	base := []Option{WithAcceptorFactory(net.factory)}
	hub, err := NewHub(append(base, opts...)...)
	require.NoError(t, err)
	return hub
}

func shutdownHub(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
}

func TestNewHubInvalidConfig(t *testing.T) {
	_, err := NewHub(WithMaxConnections(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHubLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	net := newFakeNet()
	hub := newTestHub(t, net, WithNodeID("node-a"))
	assert.Equal(t, "node-a", hub.NodeID())

	log := &eventLog{}
	hub.Events().SubscribeAll(log.add)

	ready := make(chan *Connection, 1)
	closed := make(chan *Connection, 1)
	_, err := hub.Handle("/chat", HandlerFuncs{
		Ready: func(c *Connection) { ready <- c },
		Close: func(c *Connection) { closed <- c },
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, hub.Run(ctx))
	assert.ErrorIs(t, hub.Run(ctx), ErrListenerStarted)

	addr, ok := hub.Addr("/chat")
	require.True(t, ok)
	assert.Equal(t, "fake:9000", addr)

	raw := net.acceptor("/chat").dial("/chat")
	c, ok := waitFor(ready, testTimeout)
	require.True(t, ok)

	got, ok := hub.Registry().Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)

	require.NoError(t, hub.Join(c, "lobby"))
	assert.Equal(t, []string{"lobby"}, hub.Rooms().RoomsOf(c))

	n, err := hub.Broadcast(ctx, "lobby", TextFrame("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = hub.BroadcastJSON(ctx, "lobby", map[string]string{"text": "json"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = hub.Broadcast(ctx, "nowhere", TextFrame("void"))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, hub.SendTo(c.ID(), TextFrame("direct")))
	assert.ErrorIs(t, hub.SendTo("missing", TextFrame("x")), ErrClientNotFound)
	assert.Equal(t, 1, hub.BroadcastAll(TextFrame("all")))

	assert.Equal(t, []string{"hi", `{"text":"json"}`, "direct", "all"}, raw.texts())

	raw.peerHangup()
	_, ok = waitFor(closed, testTimeout)
	require.True(t, ok)

	assert.Eventually(t, func() bool { return hub.Registry().Count() == 0 }, testTimeout, 5*time.Millisecond)
	assert.Empty(t, hub.Rooms().RoomsOf(c))
	assert.True(t, hub.Room("lobby").IsEmpty())

	assert.Eventually(t, func() bool {
		return log.has(EventListenerStarted) &&
			log.has(EventConnected) &&
			log.has(EventRoomJoined) &&
			log.has(EventRoomLeft) &&
			log.has(EventDisconnected)
	}, testTimeout, 5*time.Millisecond)

	shutdownHub(t, hub)
}

func TestHubLeave(t *testing.T) {
	net := newFakeNet()
	hub := newTestHub(t, net)
	defer shutdownHub(t, hub)

	left := make(chan Event, 1)
	hub.Subscribe(EventRoomLeft, func(e Event) { left <- e })

	c, _ := newTestConn()
	require.NoError(t, hub.Join(c, "lobby"))
	assert.True(t, hub.Leave(c, "lobby"))
	assert.False(t, hub.Leave(c, "lobby"))

	e, ok := waitFor(left, testTimeout)
	require.True(t, ok)
	assert.Equal(t, "lobby", e.Room)
	assert.Equal(t, c.ID(), e.ConnID)
}

func TestHubRejectsOverLimit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	net := newFakeNet()
	hub := newTestHub(t, net, WithMaxConnections(1))

	rejected := make(chan Event, 1)
	hub.Subscribe(EventRejected, func(e Event) { rejected <- e })

	ready := make(chan *Connection, 2)
	closes := make(chan *Connection, 2)
	_, err := hub.Handle("/chat", HandlerFuncs{
		Ready: func(c *Connection) { ready <- c },
		Close: func(c *Connection) { closes <- c },
	})
	require.NoError(t, err)
	require.NoError(t, hub.Run(context.Background()))

	acc := net.acceptor("/chat")
	acc.dial("/chat")
	first, ok := waitFor(ready, testTimeout)
	require.True(t, ok)

	second := acc.dial("/chat")
	e, ok := waitFor(rejected, testTimeout)
	require.True(t, ok)
	assert.Equal(t, "/chat", e.Path)

	assert.Eventually(t, second.isClosed, testTimeout, 5*time.Millisecond)
	assert.Equal(t, []closeCall{{code: websocket.CloseTryAgainLater, reason: "too many connections"}}, second.closeCalls())

	// 被拒绝的连接不触发用户回调
	assert.Len(t, ready, 0)
	assert.Len(t, closes, 0)
	assert.Equal(t, 1, hub.Registry().Count())
	got, _ := hub.Registry().Get(first.ID())
	assert.Same(t, first, got)

	shutdownHub(t, hub)
}

func TestHubShutdownDrains(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	net := newFakeNet()
	hub := newTestHub(t, net)
	_, err := hub.Handle("/chat", nil)
	require.NoError(t, err)
	require.NoError(t, hub.Run(context.Background()))

	raw := net.acceptor("/chat").dial("/chat")
	assert.Eventually(t, func() bool { return hub.Registry().Count() == 1 }, testTimeout, 5*time.Millisecond)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Zero(t, hub.Registry().Count())
	assert.Equal(t, []closeCall{{code: websocket.CloseGoingAway, reason: "server shutting down"}}, raw.closeCalls())

	// 重复关闭是安全的
	assert.NoError(t, hub.Shutdown(context.Background()))
}

func TestHubCrossNodeBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewMemoryBus()
	defer bus.Close()

	type node struct {
		hub   *Hub
		net   *fakeNet
		ready chan *Connection
	}
	nodes := make([]*node, 2)
	for i, id := range []string{"node-a", "node-b"} {
		n := &node{net: newFakeNet(), ready: make(chan *Connection, 1)}
		n.hub = newTestHub(t, n.net, WithNodeID(id), WithBus(bus))
		ready := n.ready
		_, err := n.hub.Handle("/chat", HandlerFuncs{Ready: func(c *Connection) { ready <- c }})
		require.NoError(t, err)
		require.NoError(t, n.hub.Run(context.Background()))
		nodes[i] = n
	}
	require.Eventually(t, func() bool { return bus.Subscribers() == 2 }, testTimeout, 5*time.Millisecond)

	raws := make([]*fakeRaw, 2)
	for i, n := range nodes {
		raws[i] = n.net.acceptor("/chat").dial("/chat")
		c, ok := waitFor(n.ready, testTimeout)
		require.True(t, ok)
		require.NoError(t, n.hub.Join(c, "lobby"))
	}

	delivered, err := nodes[0].hub.Broadcast(context.Background(), "lobby", TextFrame("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	assert.Eventually(t, func() bool { return len(raws[1].texts()) == 1 }, testTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, raws[1].texts())

	// 本节点的消息不会从总线再投递一次
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"hello"}, raws[0].texts())

	for _, n := range nodes {
		shutdownHub(t, n.hub)
	}
}

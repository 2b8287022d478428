package ws

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomJoinLeave(t *testing.T) {
	room := NewRoom("lobby")
	a, _ := newTestConn()
	b, _ := newTestConn()

	assert.Equal(t, "lobby", room.Name())
	assert.True(t, room.IsEmpty())

	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))
	assert.Equal(t, 2, room.Count())
	assert.Equal(t, []*Connection{a, b}, room.Members())

	assert.True(t, room.Leave(a))
	assert.False(t, room.Leave(a))
	assert.Equal(t, []*Connection{b}, room.Members())

	assert.True(t, room.Leave(b))
	assert.True(t, room.IsEmpty())
}

func TestRoomJoinIdempotent(t *testing.T) {
	room := NewRoom("lobby")
	c, _ := newTestConn()

	require.NoError(t, room.Join(c))
	require.NoError(t, room.Join(c))
	assert.Equal(t, 1, room.Count())
}

func TestRoomJoinCleanedConnection(t *testing.T) {
	room := NewRoom("lobby")
	c, _ := newTestConn()
	c.Cleanup()

	err := room.Join(c)
	assert.True(t, errors.Is(err, ErrConnectionClosed))
	assert.True(t, room.IsEmpty())
}

func TestRoomJoinClosedConnection(t *testing.T) {
	room := NewRoom("lobby")
	c, _ := newTestConn()
	require.NoError(t, c.Close(1000, ""))
	require.False(t, c.IsCleaned())

	assert.ErrorIs(t, room.Join(c), ErrConnectionClosed)
	assert.True(t, room.IsEmpty())
}

func TestRoomCapacity(t *testing.T) {
	room := NewRoom("small", WithRoomCapacity(2))
	a, _ := newTestConn()
	b, _ := newTestConn()
	c, _ := newTestConn()

	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))

	err := room.Join(c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllocation))
	assert.Equal(t, 2, room.Count())

	// 已在房间内的连接重复加入不受容量限制
	assert.NoError(t, room.Join(a))

	room.Leave(b)
	assert.NoError(t, room.Join(c))
}

func TestRoomBroadcastSkipsClosed(t *testing.T) {
	room := NewRoom("lobby")
	a, rawA := newTestConn()
	b, rawB := newTestConn()
	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))

	require.NoError(t, b.Close(1000, ""))

	delivered := room.Broadcast("x")

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"x"}, rawA.texts())
	assert.Empty(t, rawB.texts())
	assert.Equal(t, []*Connection{a}, room.Members())
}

func TestRoomBroadcastChat(t *testing.T) {
	room := NewRoom("chat")
	c1, raw1 := newTestConn()
	c2, raw2 := newTestConn()
	c3, raw3 := newTestConn()
	for _, c := range []*Connection{c1, c2, c3} {
		require.NoError(t, room.Join(c))
	}

	require.NoError(t, c2.Close(1000, ""))

	delivered, err := room.BroadcastJSON(struct {
		Text string `json:"text"`
	}{Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{`{"text":"hi"}`}, raw1.texts())
	assert.Empty(t, raw2.texts())
	assert.Equal(t, []string{`{"text":"hi"}`}, raw3.texts())
	assert.Equal(t, 2, room.Count())
}

func TestRoomBroadcastJSONSerializationError(t *testing.T) {
	room := NewRoom("lobby")
	c, raw := newTestConn()
	require.NoError(t, room.Join(c))

	delivered, err := room.BroadcastJSON(failingJSON{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialization))
	assert.Zero(t, delivered)
	assert.Empty(t, raw.texts())
	assert.Equal(t, 1, room.Count())
}

func TestRoomBroadcastBinary(t *testing.T) {
	room := NewRoom("lobby")
	c, raw := newTestConn()
	require.NoError(t, room.Join(c))

	assert.Equal(t, 1, room.BroadcastBinary([]byte{0xca, 0xfe}))
	require.Len(t, raw.frames, 1)
	assert.Equal(t, FrameBinary, raw.frames[0].Type)
	assert.Equal(t, []byte{0xca, 0xfe}, raw.frames[0].Data)
}

func TestRoomBroadcastSendFailureContinues(t *testing.T) {
	room := NewRoom("lobby")
	a, rawA := newTestConn()
	b, rawB := newTestConn()
	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))

	rawA.setWriteErr(errors.New("broken pipe"))

	assert.Equal(t, 1, room.Broadcast("x"))
	assert.Empty(t, rawA.texts())
	assert.Equal(t, []string{"x"}, rawB.texts())
	// 发送失败不等于关闭，成员保留
	assert.Equal(t, 2, room.Count())
}

func TestRoomBroadcastExclude(t *testing.T) {
	room := NewRoom("lobby")
	a, rawA := newTestConn()
	b, rawB := newTestConn()
	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))

	assert.Equal(t, 1, room.BroadcastFrame(TextFrame("from a"), a))
	assert.Empty(t, rawA.texts())
	assert.Equal(t, []string{"from a"}, rawB.texts())
}

func TestRoomBroadcastEmpty(t *testing.T) {
	room := NewRoom("lobby")
	assert.Zero(t, room.Broadcast("nobody"))
	assert.True(t, room.IsEmpty())
}

func TestRoomBroadcastConcurrentClose(t *testing.T) {
	room := NewRoom("busy")
	conns := make([]*Connection, 100)
	for i := range conns {
		c, _ := newTestConn(WithConnID(fmt.Sprintf("c%d", i)))
		conns[i] = c
		require.NoError(t, room.Join(c))
	}

	// i%4==0 在广播前关闭，i%4==2 与广播并发关闭，奇数保持打开
	for i := 0; i < 100; i += 4 {
		require.NoError(t, conns[i].Close(1000, ""))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 2; i < 100; i += 4 {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			<-start
			_ = c.Close(1000, "")
			c.Cleanup()
		}(conns[i])
	}

	done := make(chan int)
	go func() {
		<-start
		done <- room.Broadcast("ping")
	}()
	close(start)
	delivered := <-done
	wg.Wait()

	assert.GreaterOrEqual(t, delivered, 50)
	assert.LessOrEqual(t, delivered, 75)

	// 广播前已关闭的连接在第一次广播后即被移除，打开的连接都还在
	members := room.Members()
	for i := 0; i < 100; i += 4 {
		assert.NotContains(t, members, conns[i])
	}
	for i := 1; i < 100; i += 2 {
		assert.Contains(t, members, conns[i])
	}

	// 再次广播后只剩打开的连接
	assert.Equal(t, 50, room.Broadcast("pong"))
	assert.Equal(t, 50, room.Count())
	for _, m := range room.Members() {
		assert.True(t, m.IsOpen())
	}
}

func TestRoomIdle(t *testing.T) {
	room := NewRoom("lobby")
	now := time.Now()

	idle, ok := room.idleFor(now.Add(time.Minute))
	require.True(t, ok)
	assert.GreaterOrEqual(t, idle, time.Minute)

	c, _ := newTestConn()
	require.NoError(t, room.Join(c))
	_, ok = room.idleFor(now)
	assert.False(t, ok)

	room.Leave(c)
	_, ok = room.idleFor(time.Now())
	assert.True(t, ok)
}

func TestRoomDetachAll(t *testing.T) {
	room := NewRoom("lobby")
	a, _ := newTestConn()
	b, _ := newTestConn()
	require.NoError(t, room.Join(a))
	require.NoError(t, room.Join(b))

	detached := room.detachAll()
	assert.Len(t, detached, 2)
	assert.True(t, room.IsEmpty())
	assert.True(t, a.IsOpen())
}

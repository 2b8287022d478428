package ws

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Echo string `json:"echo"`
}

// replyOf 解析连接收到的第 i 条响应
func replyOf(t *testing.T, raw *fakeRaw, i int) map[string]any {
	t.Helper()
	texts := raw.texts()
	require.Greater(t, len(texts), i)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(texts[i]), &out))
	return out
}

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	require.NoError(t, Handle(r, "echo", func(c *Connection, req *echoRequest) (*echoResponse, error) {
		return &echoResponse{Echo: req.Text}, nil
	}))

	c, raw := newTestConn()
	r.OnMessage(c, TextFrame(`{"event":"echo","request_id":"r1","data":{"text":"hi"}}`))

	reply := replyOf(t, raw, 0)
	assert.Equal(t, "response", reply["type"])
	assert.Equal(t, "r1", reply["request_id"])
	assert.EqualValues(t, 200, reply["code"])
	assert.Equal(t, map[string]any{"echo": "hi"}, reply["data"])
}

func TestRouterHandleVariants(t *testing.T) {
	r := NewRouter()
	var got string
	require.NoError(t, Handle0(r, "note", func(c *Connection, req *echoRequest) error {
		got = req.Text
		return nil
	}))
	require.NoError(t, HandleOnly(r, "whoami", func(c *Connection) (*echoResponse, error) {
		return &echoResponse{Echo: c.ID()}, nil
	}))

	c, raw := newTestConn(WithConnID("conn-7"))
	r.OnMessage(c, TextFrame(`{"event":"note","data":{"text":"remember"}}`))
	r.OnMessage(c, TextFrame(`{"event":"whoami","request_id":"w"}`))

	assert.Equal(t, "remember", got)
	assert.EqualValues(t, 200, replyOf(t, raw, 0)["code"])
	assert.Equal(t, map[string]any{"echo": "conn-7"}, replyOf(t, raw, 1)["data"])
}

func TestRouterHandlerErrors(t *testing.T) {
	r := NewRouter()
	require.NoError(t, Handle(r, "fail", func(c *Connection, req *echoRequest) (*echoResponse, error) {
		return nil, errors.New("nope")
	}))
	require.NoError(t, Handle(r, "typed", func(c *Connection, req *echoRequest) (*echoResponse, error) {
		return &echoResponse{}, nil
	}))

	tests := []struct {
		name    string
		frame   string
		code    int
		message string
	}{
		{name: "handler error", frame: `{"event":"fail","request_id":"a"}`, code: 500, message: "nope"},
		{name: "bad request data", frame: `{"event":"typed","request_id":"b","data":"text"}`, code: 400, message: "invalid request data"},
		{name: "unknown event", frame: `{"event":"missing","request_id":"c"}`, code: 404, message: ErrHandlerNotFound.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, raw := newTestConn()
			r.OnMessage(c, TextFrame(tt.frame))

			reply := replyOf(t, raw, 0)
			assert.Equal(t, "error", reply["type"])
			assert.EqualValues(t, tt.code, reply["code"])
			assert.Equal(t, tt.message, reply["message"])
			assert.True(t, c.IsOpen())
		})
	}
}

func TestRouterInvalidMessageLimit(t *testing.T) {
	r := NewRouter(WithRouterInvalidLimit(2))
	require.NoError(t, r.Register("ping", func(c *Connection, m *Message) error { return nil }))

	c, raw := newTestConn()
	r.OnMessage(c, TextFrame("not json"))
	r.OnMessage(c, TextFrame(`{"data":{}}`))
	assert.Len(t, raw.texts(), 2)
	assert.EqualValues(t, 400, replyOf(t, raw, 0)["code"])
	assert.Empty(t, raw.closeCalls())

	// 有效消息重置计数
	r.OnMessage(c, TextFrame(`{"event":"ping"}`))
	r.OnMessage(c, TextFrame("bad"))
	r.OnMessage(c, TextFrame("bad"))
	assert.Empty(t, raw.closeCalls())

	r.OnMessage(c, TextFrame("bad"))
	assert.Equal(t, []closeCall{{code: websocket.ClosePolicyViolation, reason: "too many invalid messages"}}, raw.closeCalls())
	assert.False(t, c.IsOpen())

	// 断开后计数被清理
	r.OnClose(c)
	_, ok := r.invalid.Load(c)
	assert.False(t, ok)
}

func TestRouterMiddlewareOrder(t *testing.T) {
	for _, frozen := range []bool{false, true} {
		r := NewRouter()
		var order []string
		r.Use(
			func(c *Connection, m *Message, next NextFunc) error {
				order = append(order, "first")
				return next()
			},
			func(c *Connection, m *Message, next NextFunc) error {
				order = append(order, "second")
				return next()
			},
		)
		require.NoError(t, r.Register("go", func(c *Connection, m *Message) error {
			order = append(order, "handler")
			return nil
		}))
		if frozen {
			r.Freeze()
		}

		c, _ := newTestConn()
		require.NoError(t, r.Route(c, &Message{Event: "go"}))
		assert.Equal(t, []string{"first", "second", "handler"}, order)
	}
}

func TestRouterMiddlewareShortCircuit(t *testing.T) {
	denied := errors.New("denied")
	r := NewRouter()
	r.Use(func(c *Connection, m *Message, next NextFunc) error {
		if _, ok := c.Get("user"); !ok {
			return denied
		}
		return next()
	})
	called := false
	require.NoError(t, r.Register("secret", func(c *Connection, m *Message) error {
		called = true
		return nil
	}))

	c, _ := newTestConn()
	assert.ErrorIs(t, r.Route(c, &Message{Event: "secret"}), denied)
	assert.False(t, called)

	c.Set("user", "alice")
	require.NoError(t, r.Route(c, &Message{Event: "secret"}))
	assert.True(t, called)
}

func TestRouterRegister(t *testing.T) {
	r := NewRouter()
	noop := func(c *Connection, m *Message) error { return nil }

	require.NoError(t, r.Register("a", noop))
	assert.ErrorIs(t, r.Register("a", noop), ErrHandlerExists)

	r.Freeze()
	assert.ErrorIs(t, r.Register("b", noop), ErrRouterFrozen)

	c, _ := newTestConn()
	assert.ErrorIs(t, r.Route(c, &Message{Event: "b"}), ErrHandlerNotFound)
}

func TestRouterLifecycleHooks(t *testing.T) {
	r := NewRouter()
	var events []string
	r.OnConnect(func(c *Connection) { events = append(events, "connect:"+c.ID()) })
	r.OnDisconnect(func(c *Connection) { events = append(events, "disconnect:"+c.ID()) })

	c, _ := newTestConn(WithConnID("x"))
	r.OnReady(c)
	r.OnClose(c)
	assert.Equal(t, []string{"connect:x", "disconnect:x"}, events)
}

func TestMessageHelpers(t *testing.T) {
	msg, err := NewMessage("chat.send", echoRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeRequest, msg.Type)
	assert.NotEmpty(t, msg.RequestID)

	var req echoRequest
	require.NoError(t, msg.Unmarshal(&req))
	assert.Equal(t, "hi", req.Text)

	_, err = NewNotifyMessage("chat.message", failingJSON{})
	assert.ErrorIs(t, err, ErrSerialization)

	empty := &Message{Event: "x"}
	assert.NoError(t, empty.Unmarshal(&req))

	bad := &Message{Event: "x", Data: []byte(`"text"`)}
	assert.ErrorIs(t, bad.Unmarshal(&req), ErrInvalidMessage)
}

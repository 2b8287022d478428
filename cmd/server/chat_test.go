package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/wsroom/pkg/eventsink"
	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/metrics"
	"github.com/tokmz/wsroom/pkg/orm"
	"github.com/tokmz/wsroom/pkg/ws"
)

const testTimeout = 3 * time.Second

func init() {
	gin.SetMode(gin.TestMode)
}

// wireMessage 客户端视角的消息，兼容通知与响应
type wireMessage struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	RequestID string          `json:"request_id"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

func startChatServer(t *testing.T, prom *metrics.Prometheus) (*ws.Hub, string) {
	t.Helper()
	opts := []ws.Option{
		ws.WithHost("127.0.0.1"),
		ws.WithBasePort(0),
		ws.WithAllowAllOrigins(),
		ws.WithLogger(logger.Nop()),
	}
	if prom != nil {
		opts = append(opts, ws.WithMetrics(prom))
	}
	hub, err := ws.NewHub(opts...)
	require.NoError(t, err)

	router, err := newChatRouter(hub, logger.Nop())
	require.NoError(t, err)
	_, err = hub.Handle("/chat", router)
	require.NoError(t, err)
	require.NoError(t, hub.Run(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	addr, ok := hub.Addr("/chat")
	require.True(t, ok)
	return hub, "ws://" + addr + "/chat"
}

func dialChat(t *testing.T, url, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?name="+name, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := readUntil(t, conn, func(m wireMessage) bool { return m.Event == "welcome" })
	assert.Equal(t, "notify", welcome.Type)
	return conn
}

func request(t *testing.T, conn *websocket.Conn, event, reqID string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	msg := ws.Message{Type: ws.MessageTypeRequest, Event: event, RequestID: reqID, Data: raw}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil 丢弃不匹配的消息直到超时
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireMessage) bool) wireMessage {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m wireMessage
		require.NoError(t, json.Unmarshal(data, &m))
		if match(m) {
			return m
		}
	}
}

func responseTo(reqID string) func(wireMessage) bool {
	return func(m wireMessage) bool { return m.RequestID == reqID }
}

func TestChatConversation(t *testing.T) {
	hub, url := startChatServer(t, nil)
	alice := dialChat(t, url, "alice")
	bob := dialChat(t, url, "bob")

	request(t, alice, "chat.join", "a1", joinRequest{Room: "lobby"})
	resp := readUntil(t, alice, responseTo("a1"))
	assert.Equal(t, 200, resp.Code)
	var joined joinResponse
	require.NoError(t, json.Unmarshal(resp.Data, &joined))
	assert.Equal(t, joinResponse{Room: "lobby", Members: 1}, joined)

	request(t, bob, "chat.join", "b1", joinRequest{Room: "lobby"})
	assert.Equal(t, 200, readUntil(t, bob, responseTo("b1")).Code)

	note := readUntil(t, alice, func(m wireMessage) bool { return m.Event == "chat.joined" })
	var who chatMessage
	require.NoError(t, json.Unmarshal(note.Data, &who))
	assert.Equal(t, "bob", who.From)
	assert.Equal(t, "lobby", who.Room)

	// 房间广播先于 b2 的应答写出，bob 先读到 chat.message
	request(t, bob, "chat.send", "b2", sendRequest{Room: "lobby", Text: "hello"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		got := readUntil(t, conn, func(m wireMessage) bool { return m.Event == "chat.message" })
		var msg chatMessage
		require.NoError(t, json.Unmarshal(got.Data, &msg))
		assert.Equal(t, "bob", msg.From)
		assert.Equal(t, "hello", msg.Text)
	}
	assert.Equal(t, 200, readUntil(t, bob, responseTo("b2")).Code)

	request(t, alice, "whoami", "a2", nil)
	resp = readUntil(t, alice, responseTo("a2"))
	var me whoamiResponse
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, "alice", me.Name)
	assert.Equal(t, "/chat", me.Path)
	assert.Equal(t, []string{"lobby"}, me.Rooms)

	request(t, bob, "chat.leave", "b3", leaveRequest{Room: "lobby"})
	assert.Equal(t, 200, readUntil(t, bob, responseTo("b3")).Code)
	left := readUntil(t, alice, func(m wireMessage) bool { return m.Event == "chat.left" })
	require.NoError(t, json.Unmarshal(left.Data, &who))
	assert.Equal(t, "bob", who.From)

	room, ok := hub.Rooms().Get("lobby")
	require.True(t, ok)
	assert.Equal(t, 1, room.Count())
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii", "hello", 3, "hel"},
		{"multibyte", "你好世界", 2, "你好"},
		{"mixed", "a你b好", 3, "a你b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateText(tt.text, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestChatLongTextTruncated(t *testing.T) {
	_, url := startChatServer(t, nil)
	alice := dialChat(t, url, "alice")

	request(t, alice, "chat.join", "a1", joinRequest{Room: "lobby"})
	readUntil(t, alice, responseTo("a1"))

	long := strings.Repeat("好", maxTextLength+10)
	request(t, alice, "chat.send", "a2", sendRequest{Room: "lobby", Text: long})
	got := readUntil(t, alice, func(m wireMessage) bool { return m.Event == "chat.message" })
	var msg chatMessage
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, maxTextLength, utf8.RuneCountInString(msg.Text))
	assert.True(t, utf8.ValidString(msg.Text))
}

func TestChatErrors(t *testing.T) {
	_, url := startChatServer(t, nil)
	conn := dialChat(t, url, "carol")

	tests := []struct {
		name    string
		event   string
		data    any
		code    int
		message string
	}{
		{"empty room", "chat.join", joinRequest{Room: "  "}, 500, errRoomRequired.Error()},
		{"not a member", "chat.send", sendRequest{Room: "lobby", Text: "hi"}, 500, errNotInRoom.Error()},
		{"empty text", "chat.send", sendRequest{Room: "lobby", Text: " "}, 500, errEmptyText.Error()},
		{"leave unknown room", "chat.leave", leaveRequest{Room: "nowhere"}, 500, errNotInRoom.Error()},
		{"bad payload", "chat.join", "not an object", 400, "invalid request data"},
		{"unknown event", "chat.unknown", nil, 404, ""},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqID := string(rune('a' + i))
			request(t, conn, tt.event, reqID, tt.data)
			resp := readUntil(t, conn, responseTo(reqID))
			assert.Equal(t, "error", resp.Type)
			assert.Equal(t, tt.code, resp.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
		})
	}
}

func TestAdminEngine(t *testing.T) {
	prom := metrics.New()
	hub, url := startChatServer(t, prom)
	conn := dialChat(t, url, "dave")
	request(t, conn, "chat.join", "d1", joinRequest{Room: "ops"})
	require.Equal(t, 200, readUntil(t, conn, responseTo("d1")).Code)

	srv := httptest.NewServer(newAdminEngine(hub, prom, nil, logger.Nop()))
	defer srv.Close()

	get := func(path string) (int, []byte) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		buf, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, buf
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	var health struct {
		Status      string `json:"status"`
		Node        string `json:"node"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, hub.NodeID(), health.Node)
	assert.Equal(t, 1, health.Connections)
	assert.Equal(t, 1, health.Rooms)

	code, body = get("/rooms")
	assert.Equal(t, http.StatusOK, code)
	var rooms struct {
		Rooms []roomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(body, &rooms))
	assert.Equal(t, []roomInfo{{Name: "ops", Members: 1}}, rooms.Rooms)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "wsroom_connections_active 1")

	code, _ = get("/events")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminEvents(t *testing.T) {
	cfg := orm.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "audit.db")
	db, err := orm.Open(cfg, nil)
	require.NoError(t, err)
	audit, err := eventsink.NewGormExporter(db)
	require.NoError(t, err)
	defer func() { _ = audit.Close() }()

	ctx := context.Background()
	require.NoError(t, audit.Export(ctx, ws.Event{Type: ws.EventConnected, ConnID: "c1"}))
	require.NoError(t, audit.Export(ctx, ws.Event{Type: ws.EventRoomJoined, ConnID: "c1", Room: "lobby"}))

	hub, err := ws.NewHub(ws.WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer func() { _ = hub.Shutdown(context.Background()) }()
	engine := newAdminEngine(hub, metrics.New(), audit, logger.Nop())

	tests := []struct {
		name  string
		query string
		code  int
		count int
	}{
		{"all", "", http.StatusOK, 2},
		{"by type", "?type=room.joined", http.StatusOK, 1},
		{"by room", "?room=nowhere", http.StatusOK, 0},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"bad limit", "?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/events"+tt.query, nil)
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Events []eventsink.EventRecord `json:"events"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Len(t, body.Events, tt.count)
		})
	}
}

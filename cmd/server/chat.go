package main

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/ws"
)

var (
	errRoomRequired = errors.New("room is required")
	errNotInRoom    = errors.New("not a member of the room")
	errEmptyText    = errors.New("text is required")
)

// maxTextLength 单条聊天消息的最大字符数
const maxTextLength = 4096

type joinRequest struct {
	Room string `json:"room"`
}

type joinResponse struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type sendRequest struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

type leaveRequest struct {
	Room string `json:"room"`
}

type whoamiResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	RemoteAddr string   `json:"remote_addr"`
	Rooms      []string `json:"rooms"`
}

// chatMessage 房间内广播的聊天内容
type chatMessage struct {
	Room string `json:"room"`
	From string `json:"from"`
	Text string `json:"text,omitempty"`
	Time int64  `json:"time"`
}

// displayName 握手时通过 ?name= 指定，缺省为连接 ID
func displayName(c *ws.Connection) string {
	if name, ok := c.Get("name"); ok {
		return name
	}
	return c.ID()
}

// newChatRouter 聊天事件：chat.join / chat.send / chat.leave / whoami
func newChatRouter(hub *ws.Hub, log logger.Logger) (*ws.Router, error) {
	r := hub.NewRouter()

	r.OnConnect(func(c *ws.Connection) {
		if name := strings.TrimSpace(c.Query("name")); name != "" {
			c.Set("name", name)
		}
		if msg, err := ws.NewNotifyMessage("welcome", map[string]string{"id": c.ID()}); err == nil {
			_ = c.SendJSON(msg)
		}
	})

	r.Use(func(c *ws.Connection, m *ws.Message, next ws.NextFunc) error {
		start := time.Now()
		err := next()
		log.DebugContext(c.Context(), "Message handled",
			zap.String("event", m.Event),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return err
	})

	notify := func(c *ws.Connection, room, event, text string) error {
		msg, err := ws.NewNotifyMessage(event, chatMessage{
			Room: room,
			From: displayName(c),
			Text: text,
			Time: time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		_, err = hub.BroadcastJSON(c.Context(), room, msg)
		return err
	}

	if err := ws.Handle(r, "chat.join", func(c *ws.Connection, req *joinRequest) (*joinResponse, error) {
		room := strings.TrimSpace(req.Room)
		if room == "" {
			return nil, errRoomRequired
		}
		if err := hub.Join(c, room); err != nil {
			return nil, err
		}
		if err := notify(c, room, "chat.joined", ""); err != nil {
			log.WarnContext(c.Context(), "Join notify failed", zap.String("room", room), zap.Error(err))
		}
		return &joinResponse{Room: room, Members: hub.Room(room).Count()}, nil
	}); err != nil {
		return nil, err
	}

	if err := ws.Handle0(r, "chat.send", func(c *ws.Connection, req *sendRequest) error {
		if req.Room == "" {
			return errRoomRequired
		}
		if strings.TrimSpace(req.Text) == "" {
			return errEmptyText
		}
		if !slices.Contains(hub.Rooms().RoomsOf(c), req.Room) {
			return errNotInRoom
		}
		return notify(c, req.Room, "chat.message", truncateText(req.Text, maxTextLength))
	}); err != nil {
		return nil, err
	}

	if err := ws.Handle0(r, "chat.leave", func(c *ws.Connection, req *leaveRequest) error {
		if req.Room == "" {
			return errRoomRequired
		}
		if !hub.Leave(c, req.Room) {
			return errNotInRoom
		}
		return notify(c, req.Room, "chat.left", "")
	}); err != nil {
		return nil, err
	}

	if err := ws.HandleOnly(r, "whoami", func(c *ws.Connection) (*whoamiResponse, error) {
		return &whoamiResponse{
			ID:         c.ID(),
			Name:       displayName(c),
			Path:       c.Path(),
			RemoteAddr: c.RemoteAddr(),
			Rooms:      hub.Rooms().RoomsOf(c),
		}, nil
	}); err != nil {
		return nil, err
	}

	r.Freeze()
	return r, nil
}

// truncateText 按字符截断，不拆分多字节字符
func truncateText(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

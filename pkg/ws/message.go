package ws

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// MessageType 信封类型
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeNotify   MessageType = "notify" // 服务端推送，无需响应
	MessageTypeError    MessageType = "error"
)

// Message 客户端与服务端之间的消息信封
// 客户端请求至少带 event，需要响应时带 request_id
type Message struct {
	Type      MessageType     `json:"type,omitempty"`
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // 毫秒
}

// Reply 对请求的应答，Type 为 response 或 error
type Reply struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func newMessage(typ MessageType, event, requestID string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, ErrSerialization.WithError(err)
	}
	return &Message{
		Type:      typ,
		Event:     event,
		RequestID: requestID,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewMessage 请求消息，自动生成 RequestID
func NewMessage(event string, data any) (*Message, error) {
	return newMessage(MessageTypeRequest, event, generateRequestID(), data)
}

// NewNotifyMessage 通知消息，房间广播使用
func NewNotifyMessage(event string, data any) (*Message, error) {
	return newMessage(MessageTypeNotify, event, "", data)
}

// Unmarshal 把 Data 解到 v，Data 为空时 v 保持不变
func (m *Message) Unmarshal(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// SendResponse 回复成功应答
func SendResponse(c *Connection, requestID string, code int, message string, data any) error {
	return c.SendJSON(&Reply{
		Type:      MessageTypeResponse,
		RequestID: requestID,
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// SendError 回复错误应答
func SendError(c *Connection, requestID string, code int, message string) error {
	return c.SendJSON(&Reply{
		Type:      MessageTypeError,
		RequestID: requestID,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

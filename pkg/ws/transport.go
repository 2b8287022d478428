package ws

import (
	"context"
	"net/http"
	"net/url"
)

// FrameType 数据帧类型
type FrameType int

const (
	// FrameText 文本帧
	FrameText FrameType = iota + 1
	// FrameBinary 二进制帧
	FrameBinary
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame 已解码的数据帧
type Frame struct {
	Type FrameType
	Data []byte
}

// TextFrame 构造文本帧
func TextFrame(s string) Frame {
	return Frame{Type: FrameText, Data: []byte(s)}
}

// BinaryFrame 构造二进制帧
func BinaryFrame(b []byte) Frame {
	return Frame{Type: FrameBinary, Data: b}
}

// Handshake 握手阶段得到的元数据
type Handshake struct {
	Path       string
	RemoteAddr string
	Header     http.Header
	Query      url.Values
}

// RawConn 传输层连接
//
// 实现必须允许 WriteFrame、WriteClose 与 ReadFrame 并发调用，
// Close 可重复调用。
type RawConn interface {
	// ReadFrame 阻塞读取下一帧，对端关闭或出错时返回 error
	ReadFrame(ctx context.Context) (Frame, error)
	// WriteFrame 写入一帧
	WriteFrame(f Frame) error
	// WriteClose 发起协议层关闭握手，code 为 0 表示不携带状态码
	WriteClose(code int, reason string) error
	// Close 释放底层连接
	Close() error
}

// Acceptor 传输层监听器，每个注册路径一个
type Acceptor interface {
	// Accept 阻塞等待下一个已完成握手的连接，关闭后返回 ErrAcceptorClosed
	Accept(ctx context.Context) (*Handshake, RawConn, error)
	// Addr 实际监听地址
	Addr() string
	// Close 停止接收新连接
	Close(ctx context.Context) error
}

// AcceptorFactory 为一个注册创建监听器
type AcceptorFactory func(ctx context.Context, reg *Registration) (Acceptor, error)

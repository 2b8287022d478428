package ws

import (
	"errors"

	werrors "github.com/tokmz/wsroom/pkg/errors"
)

// 连接与房间操作的错误分类，可用 errors.Is 按错误码判断
var (
	// ErrConnectionClosed 在 open 为 false 的连接上发送
	ErrConnectionClosed = werrors.ErrConnectionClosed
	// ErrSerialization 发送前 JSON 编码失败
	ErrSerialization = werrors.ErrSerialization
	// ErrAllocation 加入房间、注册或构造时容量耗尽
	ErrAllocation = werrors.ErrAllocation
	// ErrTransport 传输层写入或关闭失败
	ErrTransport = werrors.ErrTransport
)

// 管理器使用错误
var (
	// 监听相关错误
	ErrPathRegistered     = errors.New("ws: path already registered")
	ErrListenerStarted    = errors.New("ws: listener already started")
	ErrListenerNotStarted = errors.New("ws: listener not started")
	ErrAcceptorClosed     = errors.New("ws: acceptor closed")

	// 连接相关错误
	ErrClientNotFound = errors.New("ws: client not found")

	// 房间相关错误
	ErrRoomExists = errors.New("ws: room already exists")

	// 消息相关错误
	ErrHandlerNotFound = errors.New("ws: handler not found")
	ErrHandlerExists   = errors.New("ws: handler already exists")
	ErrInvalidMessage  = errors.New("ws: invalid message format")
	ErrRouterFrozen    = errors.New("ws: router is frozen")

	// 配置相关错误
	ErrInvalidConfig = errors.New("ws: invalid config")
)

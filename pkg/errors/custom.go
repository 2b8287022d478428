package errors

/*
	连接层错误码（2xxx）
*/

const (
	CodeConnectionClosed = 2001
	CodeSerialization    = 2002
	CodeAllocation       = 2003
	CodeTransport        = 2004
)

var (
	// ErrConnectionClosed 连接已关闭时发送
	ErrConnectionClosed = New(CodeConnectionClosed, "connection closed")
	// ErrSerialization 发送前序列化失败
	ErrSerialization = New(CodeSerialization, "serialization failed")
	// ErrAllocation 资源耗尽（加入房间、注册、创建连接）
	ErrAllocation = New(CodeAllocation, "allocation failed")
	// ErrTransport 传输层写入或关闭失败
	ErrTransport = New(CodeTransport, "transport failure")
)

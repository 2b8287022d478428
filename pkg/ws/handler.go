package ws

// Handler 连接生命周期回调
//
// OnReady 在收到任何消息之前调用一次；OnMessage 每个入站帧调用一次；
// OnClose 在传输层报告关闭后调用一次，之后连接被清理。
type Handler interface {
	OnReady(c *Connection)
	OnMessage(c *Connection, f Frame)
	OnClose(c *Connection)
}

// HandlerFuncs 函数形式的 Handler，nil 字段为空操作
type HandlerFuncs struct {
	Ready   func(c *Connection)
	Message func(c *Connection, f Frame)
	Close   func(c *Connection)
}

func (h HandlerFuncs) OnReady(c *Connection) {
	if h.Ready != nil {
		h.Ready(c)
	}
}

func (h HandlerFuncs) OnMessage(c *Connection, f Frame) {
	if h.Message != nil {
		h.Message(c, f)
	}
}

func (h HandlerFuncs) OnClose(c *Connection) {
	if h.Close != nil {
		h.Close(c)
	}
}

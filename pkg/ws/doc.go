// Package ws 实时连接与房间广播。
//
// # 组件
//
//   - Connection：一条 WebSocket 会话，原子的 open/cleaned 标志、连接上下文与发送操作
//   - Room：命名广播组，先快照再释放锁后投递，投递结束时剔除已关闭成员
//   - RoomManager：按名创建、查找、销毁房间，定期清理空闲房间
//   - Registry：按连接 ID 定向寻址
//   - ListenerManager：每个注册路径一个 accept 协程，把传输连接桥接为 Connection
//   - Hub：组合以上组件，并接入事件总线、监控与跨节点总线
//
// # 基本用法
//
//	hub, err := ws.NewHub(
//	    ws.WithBasePort(9000),
//	    ws.WithCheckOriginWhitelist([]string{"https://example.com"}),
//	    ws.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//
//	router := hub.NewRouter()
//	ws.Handle0[JoinRequest](router, "chat.join", func(c *ws.Connection, req *JoinRequest) error {
//	    return hub.Join(c, req.Room)
//	})
//	router.Freeze()
//
//	if _, err := hub.Handle("/chat", router); err != nil {
//	    return err
//	}
//	if err := hub.Run(ctx); err != nil {
//	    return err
//	}
//	defer hub.Shutdown(context.Background())
//
// # 广播
//
//	room := hub.Room("lobby")
//	room.Broadcast("hello")
//	room.BroadcastJSON(map[string]string{"text": "hi"})
//
// 广播不会因为单个成员发送失败而中断，失败的成员只记录日志；
// 已关闭的成员在本次广播结束前被移出房间。
//
// # 并发约定
//
// 发送前检查 open 与实际写入之间不是原子的，关闭可能恰好落在两者之间，
// 这时发送返回 ErrConnectionClosed 或 ErrTransport。Close 只是把 open 置为 false
// 并发起关闭握手，不会打断其他协程中正在进行的写入。
//
// Cleanup 之后 *Connection 仍然可以安全持有，所有操作都会失败而不会 panic。
package ws

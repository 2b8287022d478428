package ws

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementRejectedConnections()

	// 消息指标
	IncrementMessageCount(event string)
	IncrementMessageErrors(event string)
	RecordMessageLatency(event string, d time.Duration)

	// 房间指标
	SetRoomCount(count int)
	SetRoomMemberCount(room string, count int)
	DeleteRoom(room string)
	RecordBroadcast(room string, delivered int, d time.Duration)

	// 错误指标
	IncrementReadErrors()
	IncrementWriteErrors()
	IncrementInvalidMessages()
	IncrementDroppedEvents()
	IncrementPanics(scope string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                                       {}
func (NoopMetrics) DecrementConnections()                                       {}
func (NoopMetrics) IncrementRejectedConnections()                               {}
func (NoopMetrics) IncrementMessageCount(event string)                          {}
func (NoopMetrics) IncrementMessageErrors(event string)                         {}
func (NoopMetrics) RecordMessageLatency(event string, d time.Duration)          {}
func (NoopMetrics) SetRoomCount(count int)                                      {}
func (NoopMetrics) SetRoomMemberCount(room string, count int)                   {}
func (NoopMetrics) DeleteRoom(room string)                                      {}
func (NoopMetrics) RecordBroadcast(room string, delivered int, d time.Duration) {}
func (NoopMetrics) IncrementReadErrors()                                        {}
func (NoopMetrics) IncrementWriteErrors()                                       {}
func (NoopMetrics) IncrementInvalidMessages()                                   {}
func (NoopMetrics) IncrementDroppedEvents()                                     {}
func (NoopMetrics) IncrementPanics(scope string)                                {}

package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventConnected 连接就绪
	EventConnected EventType = "connection.connected"
	// EventDisconnected 连接断开
	EventDisconnected EventType = "connection.disconnected"
	// EventRejected 连接被拒绝（超过连接上限）
	EventRejected EventType = "connection.rejected"
	// EventRoomJoined 加入房间
	EventRoomJoined EventType = "room.joined"
	// EventRoomLeft 离开房间
	EventRoomLeft EventType = "room.left"
	// EventListenerStarted 监听启动
	EventListenerStarted EventType = "listener.started"
	// EventListenerFailed 监听启动失败
	EventListenerFailed EventType = "listener.failed"
)

// Event 事件
type Event struct {
	Type   EventType      `json:"type"`
	ConnID string         `json:"conn_id,omitempty"`
	Room   string         `json:"room,omitempty"`
	Path   string         `json:"path,omitempty"`
	Node   string         `json:"node,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Time   time.Time      `json:"time"`
}

// EventHandler 事件处理器
type EventHandler func(Event)

// 事件总线默认参数
const (
	defaultEventWorkers   = 10
	defaultEventQueueSize = 1000
	criticalPublishWait   = 100 * time.Millisecond
)

// EventBus 异步事件总线
type EventBus struct {
	handlers      map[EventType][]EventHandler
	wildcard      []EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	closeOnce     sync.Once
	droppedEvents atomic.Int64 // 丢弃的事件计数
	onDrop        func()
}

// NewEventBus 创建事件总线
// onDrop 在每次丢弃事件时调用，可为 nil
func NewEventBus(onDrop func()) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), defaultEventQueueSize),
		stopCh:   make(chan struct{}),
		onDrop:   onDrop,
	}

	for i := 0; i < defaultEventWorkers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker 工作协程
func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			eb.run(task)
		case <-eb.stopCh:
			return
		}
	}
}

// run 执行任务，处理器 panic 不影响 worker
func (eb *EventBus) run(task func()) {
	defer func() {
		_ = recover()
	}()
	task()
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll 订阅所有事件
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.wildcard = append(eb.wildcard, handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.wildcard))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.wildcard...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		task := func() { h(event) }

		// 连接/断开事件短暂阻塞等待队列，其余事件队列满时直接丢弃
		if event.Type == EventConnected || event.Type == EventDisconnected {
			timer := time.NewTimer(criticalPublishWait)
			select {
			case eb.workerCh <- task:
			case <-timer.C:
				eb.drop()
			}
			timer.Stop()
		} else {
			select {
			case eb.workerCh <- task:
			default:
				eb.drop()
			}
		}
	}
}

func (eb *EventBus) drop() {
	eb.droppedEvents.Add(1)
	if eb.onDrop != nil {
		eb.onDrop()
	}
}

// Close 关闭事件总线
// 不关闭 workerCh，避免并发 Publish 导致 panic；剩余事件被丢弃
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.stopCh)
		eb.wg.Wait()
	})
}

// DroppedEventCount 丢弃的事件数量
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount 重置丢弃的事件计数（用于监控周期重置）
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}

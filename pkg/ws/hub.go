package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/tracing"
)

// busRetryDelay 总线订阅断开后的重连间隔
const busRetryDelay = time.Second

// Hub 组合注册表、房间、监听器、事件总线与跨节点总线
type Hub struct {
	config     *Config
	logger     logger.Logger
	metrics    Metrics
	serializer Serializer
	nodeID     string

	events    *EventBus
	registry  *Registry
	rooms     *RoomManager
	listeners *ListenerManager
	bus       Bus

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewHub 创建 Hub
func NewHub(opts ...Option) (*Hub, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Serializer == nil {
		cfg.Serializer = defaultSerializer
	}
	if cfg.NodeID == "" {
		cfg.NodeID = generateNodeID()
	}
	if cfg.AcceptorFactory == nil {
		cfg.AcceptorFactory = NewWebsocketAcceptorFactory(cfg)
	}

	h := &Hub{
		config:     cfg,
		logger:     cfg.Logger.With(zap.String("node", cfg.NodeID)),
		metrics:    cfg.Metrics,
		serializer: cfg.Serializer,
		nodeID:     cfg.NodeID,
		registry:   NewRegistry(cfg.MaxConnections),
		bus:        cfg.Bus,
	}
	h.events = NewEventBus(h.metrics.IncrementDroppedEvents)
	h.rooms = NewRoomManager(cfg.RoomConfig, h.logger, h.metrics)
	h.rooms.serializer = cfg.Serializer
	h.listeners = NewListenerManager(
		NewPortAllocator(cfg.BasePort),
		cfg.AcceptorFactory,
		WithListenerLogger(h.logger),
		WithListenerMetrics(h.metrics),
		WithConnectionOptions(WithSerializer(cfg.Serializer)),
	)

	return h, nil
}

// NodeID 节点 ID
func (h *Hub) NodeID() string { return h.nodeID }

// Registry 连接注册表
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms 房间管理器
func (h *Hub) Rooms() *RoomManager { return h.rooms }

// Listeners 监听管理器
func (h *Hub) Listeners() *ListenerManager { return h.listeners }

// Events 事件总线
func (h *Hub) Events() *EventBus { return h.events }

// Subscribe 订阅事件
func (h *Hub) Subscribe(t EventType, fn EventHandler) {
	h.events.Subscribe(t, fn)
}

// NewRouter 创建使用 Hub 日志、监控与序列化配置的路由器
func (h *Hub) NewRouter(opts ...RouterOption) *Router {
	base := []RouterOption{
		WithRouterLogger(h.logger),
		WithRouterMetrics(h.metrics),
		WithRouterSerializer(h.serializer),
		WithRouterInvalidLimit(h.config.InvalidMessageLimit),
	}
	return NewRouter(append(base, opts...)...)
}

// Handle 注册路径
// 连接就绪时加入注册表，断开时先离开所有房间并移出注册表，再进行清理
func (h *Hub) Handle(path string, handler Handler) (*Registration, error) {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	return h.listeners.RegisterServer(path, &hubHandler{hub: h, path: path, inner: handler})
}

// Addr 路径的实际监听地址
func (h *Hub) Addr(path string) (string, bool) {
	return h.listeners.Addr(path)
}

// Run 启动监听器、房间清理与总线订阅，立即返回
// 监听器启动失败会合并返回，但其余组件照常运行
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrListenerStarted
	}
	h.running = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	h.group = g
	h.mu.Unlock()

	g.Go(func() error {
		h.rooms.RunCleanup(gctx)
		return nil
	})
	if h.bus != nil {
		g.Go(func() error {
			h.runBus(gctx)
			return nil
		})
	}

	err := h.listeners.Start(runCtx)
	for _, reg := range h.listeners.Registrations() {
		ev := Event{Type: EventListenerFailed, Path: reg.Path, Node: h.nodeID}
		if addr, ok := h.listeners.Addr(reg.Path); ok {
			ev.Type = EventListenerStarted
			ev.Data = map[string]any{"addr": addr}
		}
		h.events.Publish(ev)
	}
	return err
}

// runBus 订阅跨节点广播，断开后重试直到 ctx 取消
func (h *Hub) runBus(ctx context.Context) {
	for {
		err := h.bus.Subscribe(ctx, h.onBusMessage)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.Warn("Bus subscription failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(busRetryDelay):
		}
	}
}

// onBusMessage 其他节点的广播只投递到本地房间，不再转发
func (h *Hub) onBusMessage(msg BusMessage) {
	if msg.Node == h.nodeID {
		return
	}
	room, ok := h.rooms.Get(msg.Room)
	if !ok {
		return
	}
	room.BroadcastFrame(Frame{Type: msg.Type, Data: msg.Payload}, nil)
}

// Shutdown 优雅关闭
// ctx 没有截止时间时使用 DrainTimeout
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		h.events.Close()
		return nil
	}
	h.running = false
	cancel, g := h.cancel, h.group
	h.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, h.config.DrainTimeout)
		defer c()
	}

	err := h.listeners.Stop(ctx)
	cancel()
	_ = g.Wait()
	h.events.Close()

	h.logger.Info("Hub stopped", zap.Int("rooms", h.rooms.Count()))
	return err
}

// Room 获取或创建房间
func (h *Hub) Room(name string) *Room {
	return h.rooms.Room(name)
}

// Join 连接加入房间
func (h *Hub) Join(c *Connection, room string) error {
	if err := h.rooms.Join(c, room); err != nil {
		return err
	}
	h.events.Publish(Event{Type: EventRoomJoined, ConnID: c.ID(), Room: room, Path: c.Path(), Node: h.nodeID})
	return nil
}

// Leave 连接离开房间
func (h *Hub) Leave(c *Connection, room string) bool {
	if !h.rooms.Leave(c, room) {
		return false
	}
	h.events.Publish(Event{Type: EventRoomLeft, ConnID: c.ID(), Room: room, Path: c.Path(), Node: h.nodeID})
	return true
}

// Broadcast 向房间广播：本地投递后发布到跨节点总线
// 返回本地送达数量；总线发布失败时返回 error，本地投递不受影响
func (h *Hub) Broadcast(ctx context.Context, room string, f Frame) (int, error) {
	ctx, span := tracing.StartBroadcastSpan(ctx, room, f.Type.String(), len(f.Data))
	defer span.End()

	delivered := 0
	if r, ok := h.rooms.Get(room); ok {
		delivered = r.BroadcastFrame(f, nil)
	}
	span.SetAttributes(tracing.AttrDelivered.Int(delivered))

	if h.bus != nil {
		err := h.bus.Publish(ctx, BusMessage{Node: h.nodeID, Room: room, Type: f.Type, Payload: f.Data})
		if err != nil {
			tracing.RecordError(span, err)
			h.logger.WarnContext(ctx, "Bus publish failed", zap.String("room", room), zap.Error(err))
			return delivered, err
		}
	}
	return delivered, nil
}

// BroadcastJSON 编码一次后向房间广播
func (h *Hub) BroadcastJSON(ctx context.Context, room string, v any) (int, error) {
	data, err := h.serializer.Marshal(v)
	if err != nil {
		return 0, ErrSerialization.WithError(err)
	}
	return h.Broadcast(ctx, room, Frame{Type: FrameText, Data: data})
}

// SendTo 按连接 ID 定向发送
func (h *Hub) SendTo(id string, f Frame) error {
	c, ok := h.registry.Get(id)
	if !ok {
		return ErrClientNotFound
	}
	return c.SendFrame(f)
}

// BroadcastAll 向本节点所有已注册连接发送
func (h *Hub) BroadcastAll(f Frame) int {
	delivered := 0
	h.registry.Range(func(_ string, c *Connection) bool {
		if c.IsOpen() && c.SendFrame(f) == nil {
			delivered++
		}
		return true
	})
	return delivered
}

// hubHandler 包装用户处理器，维护注册表与房间成员关系
type hubHandler struct {
	hub   *Hub
	path  string
	inner Handler
}

func (hh *hubHandler) OnReady(c *Connection) {
	h := hh.hub
	if err := h.registry.Register(c.ID(), c); err != nil {
		h.metrics.IncrementRejectedConnections()
		h.events.Publish(Event{Type: EventRejected, ConnID: c.ID(), Path: hh.path, Node: h.nodeID})
		h.logger.Warn("Connection rejected", zap.String("conn_id", c.ID()), zap.Error(err))
		_ = c.Close(websocket.CloseTryAgainLater, "too many connections")
		return
	}

	h.metrics.IncrementConnections()
	h.events.Publish(Event{
		Type:   EventConnected,
		ConnID: c.ID(),
		Path:   hh.path,
		Node:   h.nodeID,
		Data:   map[string]any{"remote_addr": c.RemoteAddr()},
	})
	h.logger.DebugContext(c.Context(), "Connection ready", zap.String("remote_addr", c.RemoteAddr()))
	hh.inner.OnReady(c)
}

func (hh *hubHandler) OnMessage(c *Connection, f Frame) {
	if !c.IsOpen() {
		return
	}
	hh.inner.OnMessage(c, f)
}

func (hh *hubHandler) OnClose(c *Connection) {
	h := hh.hub
	cur, registered := h.registry.Get(c.ID())
	registered = registered && cur == c

	if registered {
		hh.inner.OnClose(c)
	}

	for _, room := range h.rooms.RemoveFromAll(c) {
		h.events.Publish(Event{Type: EventRoomLeft, ConnID: c.ID(), Room: room, Path: hh.path, Node: h.nodeID})
	}

	if h.registry.Unregister(c) {
		h.metrics.DecrementConnections()
		h.events.Publish(Event{
			Type:   EventDisconnected,
			ConnID: c.ID(),
			Path:   hh.path,
			Node:   h.nodeID,
			Data:   map[string]any{"duration_ms": time.Since(c.ConnectedAt()).Milliseconds()},
		})
		h.logger.DebugContext(c.Context(), "Connection closed")
	}
}

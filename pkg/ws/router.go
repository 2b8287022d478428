package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/tracing"
)

// MessageHandler 消息处理器
type MessageHandler func(*Connection, *Message) error

// NextFunc 中间件下一步函数
type NextFunc func() error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(*Connection, *Message, NextFunc) error

// Router 按事件名分发 JSON 消息，实现 Handler
type Router struct {
	handlers   map[string]MessageHandler
	middleware []MiddlewareFunc
	compiled   map[string]MessageHandler // 预编译的处理器链
	mu         sync.RWMutex
	frozen     bool

	logger       logger.Logger
	metrics      Metrics
	serializer   Serializer
	invalidLimit int32
	invalid      sync.Map // *Connection -> *atomic.Int32

	onConnect    func(*Connection)
	onDisconnect func(*Connection)
}

// RouterOption 路由器选项
type RouterOption func(*Router)

// WithRouterLogger 设置日志
func WithRouterLogger(l logger.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithRouterMetrics 设置监控
func WithRouterMetrics(m Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithRouterSerializer 设置序列化器
func WithRouterSerializer(s Serializer) RouterOption {
	return func(r *Router) {
		r.serializer = s
	}
}

// WithRouterInvalidLimit 连续无效消息上限，超过后以 1008 关闭连接
func WithRouterInvalidLimit(n int32) RouterOption {
	return func(r *Router) {
		r.invalidLimit = n
	}
}

// NewRouter 创建路由器
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		handlers:     make(map[string]MessageHandler),
		logger:       logger.Nop(),
		metrics:      NoopMetrics{},
		serializer:   defaultSerializer,
		invalidLimit: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnConnect 设置连接就绪回调
func (r *Router) OnConnect(fn func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = fn
}

// OnDisconnect 设置连接断开回调
func (r *Router) OnDisconnect(fn func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

// Register 注册处理器
func (r *Router) Register(event string, handler MessageHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[event]; exists {
		return ErrHandlerExists
	}

	r.handlers[event] = handler
	return nil
}

// Use 添加中间件
func (r *Router) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// Freeze 冻结路由器并预编译处理器链
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true

	r.compiled = make(map[string]MessageHandler, len(r.handlers))
	for event, handler := range r.handlers {
		r.compiled[event] = buildChain(r.middleware, handler)
	}
}

// buildChain 从后向前构建中间件链
func buildChain(middleware []MiddlewareFunc, handler MessageHandler) MessageHandler {
	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := final
		final = func(c *Connection, m *Message) error {
			return mw(c, m, func() error {
				return next(c, m)
			})
		}
	}
	return final
}

// Route 路由消息
func (r *Router) Route(c *Connection, msg *Message) error {
	r.mu.RLock()
	if r.frozen {
		handler, exists := r.compiled[msg.Event]
		r.mu.RUnlock()
		if !exists {
			return ErrHandlerNotFound
		}
		return handler(c, msg)
	}

	handler, exists := r.handlers[msg.Event]
	mws := make([]MiddlewareFunc, len(r.middleware))
	copy(mws, r.middleware)
	r.mu.RUnlock()

	if !exists {
		return ErrHandlerNotFound
	}
	return buildChain(mws, handler)(c, msg)
}

func (r *Router) OnReady(c *Connection) {
	r.mu.RLock()
	fn := r.onConnect
	r.mu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

// OnMessage 解析帧并路由，连续无效帧过多时关闭连接
func (r *Router) OnMessage(c *Connection, f Frame) {
	var msg Message
	if err := r.serializer.Unmarshal(f.Data, &msg); err != nil || msg.Event == "" {
		r.metrics.IncrementInvalidMessages()
		if r.invalidCounter(c).Add(1) > r.invalidLimit {
			r.logger.Warn("Too many invalid messages",
				zap.String("conn_id", c.ID()),
				zap.Int32("limit", r.invalidLimit),
			)
			_ = c.Close(websocket.ClosePolicyViolation, "too many invalid messages")
			return
		}
		_ = SendError(c, "", 400, "invalid message format")
		return
	}
	r.invalidCounter(c).Store(0)

	start := time.Now()
	_, span := tracing.StartMessageSpan(c.Context(), c.ID(), msg.Event)
	defer span.End()

	r.metrics.IncrementMessageCount(msg.Event)
	if err := r.Route(c, &msg); err != nil {
		r.metrics.IncrementMessageErrors(msg.Event)
		tracing.RecordError(span, err)
		code := 500
		if errors.Is(err, ErrHandlerNotFound) {
			code = 404
		}
		_ = SendError(c, msg.RequestID, code, err.Error())
	}
	r.metrics.RecordMessageLatency(msg.Event, time.Since(start))
}

func (r *Router) OnClose(c *Connection) {
	r.invalid.Delete(c)

	r.mu.RLock()
	fn := r.onDisconnect
	r.mu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

func (r *Router) invalidCounter(c *Connection) *atomic.Int32 {
	v, _ := r.invalid.LoadOrStore(c, new(atomic.Int32))
	return v.(*atomic.Int32)
}

// HandlerFunc 泛型处理器函数（有请求有响应）
type HandlerFunc[Req any, Resp any] func(*Connection, *Req) (*Resp, error)

// HandlerFunc0 泛型处理器函数（有请求无响应）
type HandlerFunc0[Req any] func(*Connection, *Req) error

// HandlerFuncOnly 泛型处理器函数（无请求有响应）
type HandlerFuncOnly[Resp any] func(*Connection) (*Resp, error)

// Handle 注册泛型处理器（有请求有响应）
func Handle[Req any, Resp any](router *Router, event string, handler HandlerFunc[Req, Resp]) error {
	return router.Register(event, func(c *Connection, msg *Message) error {
		var req Req
		if err := msg.Unmarshal(&req); err != nil {
			return SendError(c, msg.RequestID, 400, "invalid request data")
		}

		resp, err := handler(c, &req)
		if err != nil {
			return SendError(c, msg.RequestID, 500, err.Error())
		}
		return SendResponse(c, msg.RequestID, 200, "success", resp)
	})
}

// Handle0 注册泛型处理器（有请求无响应）
func Handle0[Req any](router *Router, event string, handler HandlerFunc0[Req]) error {
	return router.Register(event, func(c *Connection, msg *Message) error {
		var req Req
		if err := msg.Unmarshal(&req); err != nil {
			return SendError(c, msg.RequestID, 400, "invalid request data")
		}

		if err := handler(c, &req); err != nil {
			return SendError(c, msg.RequestID, 500, err.Error())
		}
		return SendResponse(c, msg.RequestID, 200, "success", nil)
	})
}

// HandleOnly 注册泛型处理器（无请求有响应）
func HandleOnly[Resp any](router *Router, event string, handler HandlerFuncOnly[Resp]) error {
	return router.Register(event, func(c *Connection, msg *Message) error {
		resp, err := handler(c)
		if err != nil {
			return SendError(c, msg.RequestID, 500, err.Error())
		}
		return SendResponse(c, msg.RequestID, 200, "success", resp)
	})
}

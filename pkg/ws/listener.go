package ws

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/wsroom/pkg/logger"
)

// acceptRetryDelay Accept 临时失败后的重试间隔
const acceptRetryDelay = 50 * time.Millisecond

// Registration 一个 (路径, 端口, 处理器) 注册
type Registration struct {
	Path    string
	Port    int
	Handler Handler

	acceptor Acceptor
}

// ListenerManager 监听管理器
//
// 每个注册路径由一个独立的 accept 协程服务。单个注册或单个连接会话中的 panic
// 在各自的边界处恢复，不影响其他注册。
type ListenerManager struct {
	ports    *PortAllocator
	factory  AcceptorFactory
	logger   logger.Logger
	metrics  Metrics
	connOpts []ConnectionOption

	mu      sync.Mutex
	regs    []*Registration
	byPath  map[string]*Registration
	started bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup

	sessMu   sync.Mutex
	sessions map[*Connection]RawConn
	draining bool
	conns    sync.WaitGroup
}

// ListenerOption 监听管理器选项
type ListenerOption func(*ListenerManager)

// WithListenerLogger 设置日志
func WithListenerLogger(l logger.Logger) ListenerOption {
	return func(lm *ListenerManager) {
		lm.logger = l
	}
}

// WithListenerMetrics 设置监控
func WithListenerMetrics(m Metrics) ListenerOption {
	return func(lm *ListenerManager) {
		lm.metrics = m
	}
}

// WithConnectionOptions 新连接的构造选项
func WithConnectionOptions(opts ...ConnectionOption) ListenerOption {
	return func(lm *ListenerManager) {
		lm.connOpts = append(lm.connOpts, opts...)
	}
}

// NewListenerManager 创建监听管理器
func NewListenerManager(ports *PortAllocator, factory AcceptorFactory, opts ...ListenerOption) *ListenerManager {
	lm := &ListenerManager{
		ports:    ports,
		factory:  factory,
		logger:   logger.Nop(),
		metrics:  NoopMetrics{},
		byPath:   make(map[string]*Registration),
		sessions: make(map[*Connection]RawConn),
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// RegisterServer 登记路径并分配端口，Start 之前不会监听
func (lm *ListenerManager) RegisterServer(path string, h Handler) (*Registration, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return nil, ErrListenerStarted
	}
	if _, ok := lm.byPath[path]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPathRegistered, path)
	}
	if h == nil {
		h = HandlerFuncs{}
	}

	port, err := lm.ports.Next()
	if err != nil {
		return nil, err
	}

	reg := &Registration{Path: path, Port: port, Handler: h}
	lm.regs = append(lm.regs, reg)
	lm.byPath[path] = reg
	return reg, nil
}

// Registrations 已登记的注册（按登记顺序）
func (lm *ListenerManager) Registrations() []*Registration {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make([]*Registration, len(lm.regs))
	copy(out, lm.regs)
	return out
}

// Addr 路径对应的实际监听地址，未启动时返回 false
func (lm *ListenerManager) Addr(path string) (string, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	reg, ok := lm.byPath[path]
	if !ok || reg.acceptor == nil {
		return "", false
	}
	return reg.acceptor.Addr(), true
}

// Start 为每个注册创建监听器并启动 accept 协程
// 单个注册创建失败会被记录并合并返回，其余注册照常运行
func (lm *ListenerManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return ErrListenerStarted
	}
	lm.started = true

	lm.sessMu.Lock()
	lm.draining = false
	lm.sessMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	lm.cancel = cancel

	var errs []error
	for _, reg := range lm.regs {
		acc, err := lm.factory(ctx, reg)
		if err != nil {
			lm.logger.Error("Listener start failed",
				zap.String("path", reg.Path),
				zap.Int("port", reg.Port),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("listen %s: %w", reg.Path, err))
			continue
		}
		reg.acceptor = acc
		lm.logger.Info("Listener started",
			zap.String("path", reg.Path),
			zap.String("addr", acc.Addr()),
		)

		lm.loops.Add(1)
		go lm.acceptLoop(runCtx, reg, acc)
	}
	return errors.Join(errs...)
}

// acceptLoop 单个注册的 accept 循环
func (lm *ListenerManager) acceptLoop(ctx context.Context, reg *Registration, acc Acceptor) {
	defer lm.loops.Done()
	defer func() {
		if r := recover(); r != nil {
			lm.metrics.IncrementPanics("listener")
			lm.logger.Error("Listener panic recovered",
				zap.String("path", reg.Path),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	for {
		hs, raw, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, ErrAcceptorClosed) || ctx.Err() != nil {
				return
			}
			lm.logger.Warn("Accept failed", zap.String("path", reg.Path), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		lm.serve(ctx, reg, hs, raw)
	}
}

// serve 构造连接并启动会话协程
func (lm *ListenerManager) serve(ctx context.Context, reg *Registration, hs *Handshake, raw RawConn) {
	lm.sessMu.Lock()
	if lm.draining {
		lm.sessMu.Unlock()
		_ = raw.WriteClose(websocket.CloseGoingAway, "server shutting down")
		_ = raw.Close()
		return
	}
	c := NewConnection(hs, raw, lm.connOpts...)
	lm.sessions[c] = raw
	lm.conns.Add(1)
	lm.sessMu.Unlock()

	go lm.session(ctx, reg, c, raw)
}

// session 连接会话：OnReady，逐帧 OnMessage，直到传输层关闭
func (lm *ListenerManager) session(ctx context.Context, reg *Registration, c *Connection, raw RawConn) {
	log := lm.logger.With(zap.String("path", reg.Path), zap.String("conn_id", c.ID()))

	defer func() {
		c.open.Store(false)
		lm.safeCall(log, "OnClose", func() { reg.Handler.OnClose(c) })
		c.Cleanup()
		_ = raw.Close()

		lm.sessMu.Lock()
		delete(lm.sessions, c)
		lm.sessMu.Unlock()
		lm.conns.Done()
	}()

	if !lm.safeCall(log, "OnReady", func() { reg.Handler.OnReady(c) }) {
		return
	}

	for {
		f, err := raw.ReadFrame(ctx)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				lm.metrics.IncrementReadErrors()
				log.Debug("Connection read failed", zap.Error(err))
			}
			return
		}
		if !lm.safeCall(log, "OnMessage", func() { reg.Handler.OnMessage(c, f) }) {
			_ = c.Close(websocket.CloseInternalServerErr, "internal error")
			return
		}
	}
}

// safeCall 调用用户回调并恢复 panic，发生 panic 时返回 false
func (lm *ListenerManager) safeCall(log logger.Logger, hook string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			lm.metrics.IncrementPanics("session")
			log.Error("Connection handler panic recovered",
				zap.String("hook", hook),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn()
	return true
}

// SessionCount 进行中的会话数
func (lm *ListenerManager) SessionCount() int {
	lm.sessMu.Lock()
	defer lm.sessMu.Unlock()
	return len(lm.sessions)
}

// Stop 关闭所有监听器并等待会话结束
//
// 先并行关闭监听器，再向所有会话发送 1001 关闭帧等待其自然结束；
// ctx 到期后强制关闭剩余连接并返回 ctx 的错误。
func (lm *ListenerManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	if !lm.started {
		lm.mu.Unlock()
		return ErrListenerNotStarted
	}
	regs := make([]*Registration, len(lm.regs))
	copy(regs, lm.regs)
	lm.mu.Unlock()

	lm.sessMu.Lock()
	lm.draining = true
	lm.sessMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range regs {
		if reg.acceptor == nil {
			continue
		}
		acc := reg.acceptor
		g.Go(func() error {
			if err := acc.Close(gctx); err != nil && !errors.Is(err, ErrAcceptorClosed) {
				return fmt.Errorf("close %s: %w", reg.Path, err)
			}
			return nil
		})
	}
	closeErr := g.Wait()

	for c := range lm.snapshotSessions() {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	drained := make(chan struct{})
	go func() {
		lm.conns.Wait()
		close(drained)
	}()

	var stopErr error
	select {
	case <-drained:
	case <-ctx.Done():
		stopErr = ctx.Err()
		for _, raw := range lm.snapshotSessions() {
			_ = raw.Close()
		}
		<-drained
	}

	lm.mu.Lock()
	if lm.cancel != nil {
		lm.cancel()
	}
	lm.mu.Unlock()
	lm.loops.Wait()

	lm.mu.Lock()
	lm.regs = nil
	lm.byPath = make(map[string]*Registration)
	lm.started = false
	lm.cancel = nil
	lm.mu.Unlock()

	if closeErr != nil {
		lm.logger.Warn("Listener close failed", zap.Error(closeErr))
	}
	lm.logger.Info("Listeners stopped", zap.Bool("forced", stopErr != nil))
	if closeErr == nil {
		return stopErr
	}
	return errors.Join(stopErr, closeErr)
}

func (lm *ListenerManager) snapshotSessions() map[*Connection]RawConn {
	lm.sessMu.Lock()
	defer lm.sessMu.Unlock()
	out := make(map[*Connection]RawConn, len(lm.sessions))
	for c, raw := range lm.sessions {
		out[c] = raw
	}
	return out
}

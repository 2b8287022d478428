package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/tracing"
)

// pendingQueueSize 已升级但尚未被 Accept 取走的连接数上限
const pendingQueueSize = 64

// NewWebsocketAcceptorFactory 基于 gorilla/websocket 的监听器工厂
// 每个注册在 host:port 上启动独立的 gin 引擎
func NewWebsocketAcceptorFactory(cfg *Config) AcceptorFactory {
	return func(ctx context.Context, reg *Registration) (Acceptor, error) {
		return newWebsocketAcceptor(ctx, cfg, reg)
	}
}

type accepted struct {
	hs  *Handshake
	raw RawConn
}

// websocketAcceptor gorilla/websocket 监听器
type websocketAcceptor struct {
	cfg      *Config
	reg      *Registration
	logger   logger.Logger
	upgrader *websocket.Upgrader

	ln     net.Listener
	srv    *http.Server
	served chan struct{}

	pending   chan accepted
	done      chan struct{}
	closeOnce sync.Once
}

func newWebsocketAcceptor(ctx context.Context, cfg *Config, reg *Registration) (*websocketAcceptor, error) {
	l := cfg.Logger
	if l == nil {
		l = logger.Nop()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(reg.Port)))
	if err != nil {
		return nil, ErrTransport.WithError(err)
	}

	a := &websocketAcceptor{
		cfg:      cfg,
		reg:      reg,
		logger:   l.With(zap.String("path", reg.Path)),
		upgrader: newUpgrader(cfg.UpgraderConfig, cfg.HandshakeTimeout),
		ln:       ln,
		served:   make(chan struct{}),
		pending:  make(chan accepted, pendingQueueSize),
		done:     make(chan struct{}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), logger.Middleware(l), tracing.Middleware())
	if cfg.HandshakeRate > 0 {
		limiter := newHandshakeLimiter(cfg.HandshakeRate, cfg.HandshakeBurst)
		go limiter.run(a.done)
		engine.Use(limiter.middleware(a.logger))
	}
	engine.GET(reg.Path, a.handleUpgrade)

	a.srv = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: cfg.HandshakeTimeout,
	}

	go func() {
		defer close(a.served)
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Listener serve failed", zap.Error(err))
		}
	}()

	return a, nil
}

// handleUpgrade 完成握手并交给 Accept
func (a *websocketAcceptor) handleUpgrade(c *gin.Context) {
	select {
	case <-a.done:
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	default:
	}

	// gorilla 自行写出 101 响应，需要显式带上追踪头
	var respHeader http.Header
	if tp := c.Writer.Header().Get("traceparent"); tp != "" {
		respHeader = http.Header{"Traceparent": []string{tp}}
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		// Upgrader 已写出错误响应
		a.logger.DebugContext(c.Request.Context(), "Upgrade failed", zap.Error(err))
		return
	}

	raw := newWSConn(conn, a.cfg)
	hs := &Handshake{
		Path:       a.reg.Path,
		RemoteAddr: conn.RemoteAddr().String(),
		Header:     c.Request.Header.Clone(),
		Query:      c.Request.URL.Query(),
	}

	timer := time.NewTimer(a.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case a.pending <- accepted{hs: hs, raw: raw}:
	case <-a.done:
		_ = raw.WriteClose(websocket.CloseGoingAway, "server shutting down")
		_ = raw.Close()
	case <-timer.C:
		_ = raw.WriteClose(websocket.CloseTryAgainLater, "server busy")
		_ = raw.Close()
	}
}

func (a *websocketAcceptor) Accept(ctx context.Context) (*Handshake, RawConn, error) {
	select {
	case p := <-a.pending:
		return p.hs, p.raw, nil
	case <-a.done:
		return nil, nil, ErrAcceptorClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (a *websocketAcceptor) Addr() string {
	return a.ln.Addr().String()
}

// Close 停止接收新连接，已交付的连接不受影响
func (a *websocketAcceptor) Close(ctx context.Context) error {
	err := ErrAcceptorClosed
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.srv.Shutdown(ctx)
		<-a.served

		// 释放尚未被取走的连接
		for {
			select {
			case p := <-a.pending:
				_ = p.raw.WriteClose(websocket.CloseGoingAway, "server shutting down")
				_ = p.raw.Close()
			default:
				return
			}
		}
	})
	return err
}

// wsConn gorilla 连接适配，写操作串行化
type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
	closeGrace   time.Duration

	closeSent atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, cfg *Config) *wsConn {
	w := &wsConn{
		conn:         conn,
		writeWait:    cfg.WriteWait,
		pongWait:     cfg.HeartbeatTimeout,
		pingInterval: cfg.HeartbeatInterval,
		closeGrace:   cfg.CloseGracePeriod,
		done:         make(chan struct{}),
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(w.pongWait))
	conn.SetPongHandler(func(string) error {
		if w.closeSent.Load() {
			return nil
		}
		return conn.SetReadDeadline(time.Now().Add(w.pongWait))
	})

	go w.pingLoop()
	return w
}

// pingLoop 定期发送心跳
func (w *wsConn) pingLoop() {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeWait)); err != nil {
				return
			}
		}
	}
}

func (w *wsConn) ReadFrame(ctx context.Context) (Frame, error) {
	// ctx 取消时让阻塞的读立即返回
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if mt == websocket.BinaryMessage {
		return Frame{Type: FrameBinary, Data: data}, nil
	}
	return Frame{Type: FrameText, Data: data}, nil
}

func (w *wsConn) WriteFrame(f Frame) error {
	mt := websocket.TextMessage
	if f.Type == FrameBinary {
		mt = websocket.BinaryMessage
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeWait)); err != nil {
		return err
	}
	return w.conn.WriteMessage(mt, f.Data)
}

// WriteClose 发送关闭帧，并给对端 closeGrace 的时间回应
func (w *wsConn) WriteClose(code int, reason string) error {
	var payload []byte
	if code != 0 {
		payload = websocket.FormatCloseMessage(code, reason)
	}

	err := w.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(w.writeWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	if err != nil {
		return err
	}
	w.closeSent.Store(true)
	return w.conn.SetReadDeadline(time.Now().Add(w.closeGrace))
}

func (w *wsConn) Close() error {
	err := net.ErrClosed
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

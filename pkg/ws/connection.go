package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokmz/wsroom/pkg/logger"
)

// Connection 一条活跃的 WebSocket 会话
//
// open 与 cleaned 是仅有的无锁字段，其余字段要么构造后不可变，要么由 mu 保护。
// 房间和注册表持有的是 *Connection，Cleanup 之后句柄依旧有效，
// 只是所有操作都会安全失败。
//
// 发送前检查 open 再写入不是原子的：关闭可能恰好发生在两者之间，
// 此时发送返回 ErrConnectionClosed 或 ErrTransport。
type Connection struct {
	id          string
	path        string
	remoteAddr  string
	header      http.Header
	query       url.Values
	connectedAt time.Time
	ctx         context.Context

	open    atomic.Bool
	cleaned atomic.Bool

	mu     sync.RWMutex
	values map[string]string

	raw        RawConn
	serializer Serializer
	hooks      []func(*Connection)
}

// ConnectionOption 连接选项
type ConnectionOption func(*Connection)

// WithConnID 指定连接 ID（默认 UUID）
func WithConnID(id string) ConnectionOption {
	return func(c *Connection) {
		c.id = id
	}
}

// WithConnContext 指定连接的基础 context（默认 Background）
func WithConnContext(ctx context.Context) ConnectionOption {
	return func(c *Connection) {
		c.ctx = ctx
	}
}

// WithSerializer 指定 SendJSON 使用的序列化器
func WithSerializer(s Serializer) ConnectionOption {
	return func(c *Connection) {
		c.serializer = s
	}
}

// WithCleanupHook 注册清理钩子，在 Cleanup 中执行一次
func WithCleanupHook(fn func(*Connection)) ConnectionOption {
	return func(c *Connection) {
		c.hooks = append(c.hooks, fn)
	}
}

// NewConnection 包装一个已完成握手的传输连接
func NewConnection(hs *Handshake, raw RawConn, opts ...ConnectionOption) *Connection {
	if hs == nil {
		hs = &Handshake{}
	}
	c := &Connection{
		path:        hs.Path,
		remoteAddr:  hs.RemoteAddr,
		header:      hs.Header.Clone(),
		query:       cloneValues(hs.Query),
		connectedAt: time.Now(),
		values:      make(map[string]string),
		raw:         raw,
		serializer:  defaultSerializer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = generateConnID()
	}
	if c.header == nil {
		c.header = http.Header{}
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	c.ctx = logger.WithConnID(c.ctx, c.id)
	c.open.Store(true)
	return c
}

// ID 连接 ID
func (c *Connection) ID() string { return c.id }

// Path 注册路径
func (c *Connection) Path() string { return c.path }

// RemoteAddr 对端地址
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Header 握手请求头
func (c *Connection) Header(key string) string { return c.header.Get(key) }

// Query 握手查询参数
func (c *Connection) Query(key string) string { return c.query.Get(key) }

// Context 携带连接 ID 的 context，用于日志与追踪
func (c *Connection) Context() context.Context { return c.ctx }

// ConnectedAt 建立时间
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// IsOpen 连接是否仍可发送
func (c *Connection) IsOpen() bool { return c.open.Load() }

// IsCleaned 是否已完成清理
func (c *Connection) IsCleaned() bool { return c.cleaned.Load() }

// SendText 发送文本帧
func (c *Connection) SendText(payload string) error {
	return c.SendFrame(TextFrame(payload))
}

// SendBinary 发送二进制帧
func (c *Connection) SendBinary(payload []byte) error {
	return c.SendFrame(BinaryFrame(payload))
}

// SendJSON 序列化后以文本帧发送
// 编码失败返回 ErrSerialization，不改变连接状态
func (c *Connection) SendJSON(v any) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return ErrSerialization.WithError(err)
	}
	return c.SendFrame(Frame{Type: FrameText, Data: data})
}

// SendFrame 发送一帧
func (c *Connection) SendFrame(f Frame) error {
	if !c.open.Load() {
		return ErrConnectionClosed
	}
	if err := c.raw.WriteFrame(f); err != nil {
		return ErrTransport.WithError(err)
	}
	return nil
}

// Close 标记关闭并发起关闭握手
// code 为 0 表示不携带状态码；重复调用是安全的
func (c *Connection) Close(code int, reason string) error {
	c.open.Store(false)
	if c.cleaned.Load() {
		return nil
	}
	if err := c.raw.WriteClose(code, reason); err != nil {
		return ErrTransport.WithError(err)
	}
	return nil
}

// Get 读取连接上下文
func (c *Connection) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set 写入连接上下文，清理之后忽略
func (c *Connection) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		return
	}
	c.values[key] = value
}

// Cleanup 一次性释放连接资源
// 只有赢得 cleaned 交换的调用方执行清理并返回 true
func (c *Connection) Cleanup() bool {
	if !c.cleaned.CompareAndSwap(false, true) {
		return false
	}
	c.open.Store(false)

	c.mu.Lock()
	c.values = nil
	c.mu.Unlock()

	for _, fn := range c.hooks {
		fn(c)
	}
	c.hooks = nil
	return true
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return url.Values{}
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

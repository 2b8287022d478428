package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/wsroom/pkg/config"
	"github.com/tokmz/wsroom/pkg/logger"
)

// Config Hub 配置
type Config struct {
	// 监听配置
	Host     string // 监听地址
	BasePort int    // 端口分配起始值，0 表示由系统分配

	// 连接配置
	MaxConnections   int           // 最大连接数
	HandshakeTimeout time.Duration // 握手超时时间
	MaxMessageSize   int64         // 最大消息大小
	WriteWait        time.Duration // 单次写超时
	CloseGracePeriod time.Duration // 发出关闭帧后等待对端回应的时间
	DrainTimeout     time.Duration // Shutdown 未指定期限时的默认排空时间

	// 心跳配置
	HeartbeatInterval time.Duration // 心跳间隔
	HeartbeatTimeout  time.Duration // 心跳超时

	// 连续无效消息上限，超过后以 1008 关闭连接
	InvalidMessageLimit int32

	// 每个客户端 IP 每秒允许的握手次数，0 表示不限制
	HandshakeRate  float64
	HandshakeBurst int

	// 房间配置
	RoomConfig RoomConfig

	// Upgrader 配置
	UpgraderConfig UpgraderConfig

	// 协作组件
	Metrics         Metrics
	Logger          logger.Logger
	Serializer      Serializer
	Bus             Bus
	NodeID          string
	AcceptorFactory AcceptorFactory
}

// RoomConfig 房间配置
type RoomConfig struct {
	MaxRoomSize     int           // 单个房间最大人数，0 表示不限制
	CleanupInterval time.Duration // 清理间隔
	EmptyRoomTTL    time.Duration // 空房间存活时间
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int                      // 读缓冲区大小
	WriteBufferSize   int                      // 写缓冲区大小
	CheckOrigin       func(*http.Request) bool // Origin 检查函数
	EnableCompression bool                     // 是否启用压缩
	AllowedOrigins    []string                 // 允许的 Origin 白名单
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:                "0.0.0.0",
		BasePort:            9000,
		MaxConnections:      10000,
		HandshakeTimeout:    10 * time.Second,
		MaxMessageSize:      512 * 1024, // 512KB
		WriteWait:           10 * time.Second,
		CloseGracePeriod:    2 * time.Second,
		DrainTimeout:        10 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		HeartbeatTimeout:    90 * time.Second,
		InvalidMessageLimit: 10,
		RoomConfig: RoomConfig{
			MaxRoomSize:     1000,
			CleanupInterval: 5 * time.Minute,
			EmptyRoomTTL:    10 * time.Minute,
		},
		UpgraderConfig: UpgraderConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.BasePort < 0 || c.BasePort > maxPort {
		return fmt.Errorf("%w: BasePort out of range: %d", ErrInvalidConfig, c.BasePort)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: MaxConnections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: HandshakeTimeout must be positive, got %v", ErrInvalidConfig, c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.WriteWait <= 0 {
		return fmt.Errorf("%w: WriteWait must be positive, got %v", ErrInvalidConfig, c.WriteWait)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HeartbeatInterval must be positive, got %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			ErrInvalidConfig, c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.HandshakeRate < 0 {
		return fmt.Errorf("%w: HandshakeRate must not be negative, got %v", ErrInvalidConfig, c.HandshakeRate)
	}
	if c.InvalidMessageLimit <= 0 {
		return fmt.Errorf("%w: InvalidMessageLimit must be positive, got %d", ErrInvalidConfig, c.InvalidMessageLimit)
	}

	// 验证房间配置
	if c.RoomConfig.MaxRoomSize < 0 {
		return fmt.Errorf("%w: RoomConfig.MaxRoomSize must not be negative, got %d", ErrInvalidConfig, c.RoomConfig.MaxRoomSize)
	}
	if c.RoomConfig.CleanupInterval <= 0 {
		return fmt.Errorf("%w: RoomConfig.CleanupInterval must be positive, got %v", ErrInvalidConfig, c.RoomConfig.CleanupInterval)
	}
	if c.RoomConfig.EmptyRoomTTL <= 0 {
		return fmt.Errorf("%w: RoomConfig.EmptyRoomTTL must be positive, got %v", ErrInvalidConfig, c.RoomConfig.EmptyRoomTTL)
	}

	// 验证 Upgrader 配置
	if c.UpgraderConfig.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: UpgraderConfig.ReadBufferSize must be positive, got %d", ErrInvalidConfig, c.UpgraderConfig.ReadBufferSize)
	}
	if c.UpgraderConfig.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: UpgraderConfig.WriteBufferSize must be positive, got %d", ErrInvalidConfig, c.UpgraderConfig.WriteBufferSize)
	}

	return nil
}

// Option 配置选项
type Option func(*Config)

// WithHost 设置监听地址
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithBasePort 设置端口分配起始值
func WithBasePort(port int) Option {
	return func(c *Config) {
		c.BasePort = port
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
	}
}

// WithHeartbeatTimeout 设置心跳超时
func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatTimeout = timeout
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithWriteWait 设置写超时
func WithWriteWait(d time.Duration) Option {
	return func(c *Config) {
		c.WriteWait = d
	}
}

// WithDrainTimeout 设置默认排空时间
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.DrainTimeout = d
	}
}

// WithRoomConfig 设置房间配置
func WithRoomConfig(rc RoomConfig) Option {
	return func(c *Config) {
		c.RoomConfig = rc
	}
}

// WithInvalidMessageLimit 设置连续无效消息上限
func WithInvalidMessageLimit(n int32) Option {
	return func(c *Config) {
		c.InvalidMessageLimit = n
	}
}

// WithHandshakeRateLimit 按客户端 IP 限制握手频率
func WithHandshakeRateLimit(rate float64, burst int) Option {
	return func(c *Config) {
		c.HandshakeRate = rate
		c.HandshakeBurst = burst
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.UpgraderConfig.AllowedOrigins = allowedOrigins
		c.UpgraderConfig.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.UpgraderConfig.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.UpgraderConfig.EnableCompression = enable
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithJSONSerializer 替换默认 JSON 序列化器
func WithJSONSerializer(s Serializer) Option {
	return func(c *Config) {
		c.Serializer = s
	}
}

// WithBus 设置跨节点广播总线
func WithBus(bus Bus) Option {
	return func(c *Config) {
		c.Bus = bus
	}
}

// WithNodeID 设置节点 ID（默认随机生成）
func WithNodeID(id string) Option {
	return func(c *Config) {
		c.NodeID = id
	}
}

// WithAcceptorFactory 替换传输层实现（默认 gorilla/websocket）
func WithAcceptorFactory(f AcceptorFactory) Option {
	return func(c *Config) {
		c.AcceptorFactory = f
	}
}

// FromSettings 将服务配置转换为选项
func FromSettings(s *config.Settings) []Option {
	opts := []Option{
		WithHost(s.Server.Host),
		WithBasePort(s.Server.BasePort),
		WithMaxConnections(s.Server.MaxConnections),
		WithMessageSizeLimit(s.Server.MaxMessageSize),
		WithHeartbeatInterval(s.Server.HeartbeatInterval),
		WithHeartbeatTimeout(s.Server.HeartbeatTimeout),
		WithEnableCompression(s.Server.EnableCompression),
		WithHandshakeRateLimit(s.Server.HandshakeRate, s.Server.HandshakeBurst),
		WithRoomConfig(RoomConfig{
			MaxRoomSize:     s.Rooms.MaxRoomSize,
			CleanupInterval: s.Rooms.CleanupInterval,
			EmptyRoomTTL:    s.Rooms.EmptyRoomTTL,
		}),
		func(c *Config) {
			if s.Server.WriteWait > 0 {
				c.WriteWait = s.Server.WriteWait
			}
			if s.Server.CloseGracePeriod > 0 {
				c.CloseGracePeriod = s.Server.CloseGracePeriod
			}
			if s.Server.DrainTimeout > 0 {
				c.DrainTimeout = s.Server.DrainTimeout
			}
		},
	}

	switch {
	case s.Server.AllowAllOrigins:
		opts = append(opts, WithAllowAllOrigins())
	case len(s.Server.AllowedOrigins) > 0:
		opts = append(opts, WithCheckOriginWhitelist(s.Server.AllowedOrigins))
	}
	return opts
}

// defaultCheckOrigin 默认 Origin 检查（同源策略）
// 生产环境建议使用 WithCheckOriginWhitelist 设置白名单
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// 严格模式：拒绝空 Origin
		// 如需允许非浏览器客户端，使用 WithAllowAllOrigins()
		return false
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return whitelist[origin]
	}
}

// newUpgrader 根据配置创建 gorilla Upgrader
func newUpgrader(cfg UpgraderConfig, handshakeTimeout time.Duration) *websocket.Upgrader {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		if len(cfg.AllowedOrigins) > 0 {
			checkOrigin = createWhitelistChecker(cfg.AllowedOrigins)
		} else {
			checkOrigin = defaultCheckOrigin
		}
	}

	return &websocket.Upgrader{
		HandshakeTimeout:  handshakeTimeout,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: cfg.EnableCompression,
	}
}

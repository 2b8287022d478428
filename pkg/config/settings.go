package config

import (
	"fmt"
	"time"
)

// Settings 服务配置
type Settings struct {
	Server  ServerSettings  `mapstructure:"server"`
	Rooms   RoomSettings    `mapstructure:"rooms"`
	Log     LogSettings     `mapstructure:"log"`
	Tracing TracingSettings `mapstructure:"tracing"`
	Redis   RedisSettings   `mapstructure:"redis"`
	Kafka   KafkaSettings   `mapstructure:"kafka"`
	AMQP    AMQPSettings    `mapstructure:"amqp"`
	Audit   AuditSettings   `mapstructure:"audit"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

// ServerSettings 监听与连接配置
type ServerSettings struct {
	Host              string        `mapstructure:"host"`
	BasePort          int           `mapstructure:"base_port"` // 端口分配起始值
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	CloseGracePeriod  time.Duration `mapstructure:"close_grace_period"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	AllowAllOrigins   bool          `mapstructure:"allow_all_origins"` // 仅用于开发环境
	EnableCompression bool          `mapstructure:"enable_compression"`
	HandshakeRate     float64       `mapstructure:"handshake_rate"` // 每 IP 每秒握手数，0 不限制
	HandshakeBurst    int           `mapstructure:"handshake_burst"`
}

// RoomSettings 房间配置
type RoomSettings struct {
	MaxRoomSize     int           `mapstructure:"max_room_size"` // 0 表示不限制
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	EmptyRoomTTL    time.Duration `mapstructure:"empty_room_ttl"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // 非空时启用文件轮转
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Sampling   bool   `mapstructure:"sampling"` // 按秒采样高频日志
}

// TracingSettings 链路追踪配置
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	Exporter     string  `mapstructure:"exporter"` // otlp/otlp-grpc/stdout/noop
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RedisSettings 跨节点广播总线配置
type RedisSettings struct {
	Enabled       bool     `mapstructure:"enabled"`
	Mode          string   `mapstructure:"mode"` // standalone/cluster/sentinel
	Addr          string   `mapstructure:"addr"`
	Addrs         []string `mapstructure:"addrs"` // 集群或哨兵地址
	MasterName    string   `mapstructure:"master_name"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	DB            int      `mapstructure:"db"`
	PoolSize      int      `mapstructure:"pool_size"`
	ChannelPrefix string   `mapstructure:"channel_prefix"`
}

// KafkaSettings 事件导出（Kafka）
type KafkaSettings struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// AMQPSettings 事件导出（RabbitMQ）
type AMQPSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// AuditSettings 事件审计（写入数据库）
type AuditSettings struct {
	Enabled      bool     `mapstructure:"enabled"`
	Driver       string   `mapstructure:"driver"` // mysql/postgres/sqlite/sqlserver
	DSN          string   `mapstructure:"dsn"`
	Replicas     []string `mapstructure:"replicas"` // 只读副本
	TablePrefix  string   `mapstructure:"table_prefix"`
	MaxOpenConns int      `mapstructure:"max_open_conns"`
}

// MetricsSettings 管理端口配置
type MetricsSettings struct {
	Addr string `mapstructure:"addr"` // 空表示不启动管理端口
}

// defaultValues 默认配置值
func defaultValues() map[string]any {
	return map[string]any{
		"server.host":               "0.0.0.0",
		"server.base_port":          9000,
		"server.max_connections":    10000,
		"server.max_message_size":   512 * 1024,
		"server.heartbeat_interval": 30 * time.Second,
		"server.heartbeat_timeout":  90 * time.Second,
		"server.write_wait":         10 * time.Second,
		"server.close_grace_period": 2 * time.Second,
		"server.drain_timeout":      10 * time.Second,
		"server.handshake_burst":    20,
		"rooms.max_room_size":       1000,
		"rooms.cleanup_interval":    5 * time.Minute,
		"rooms.empty_room_ttl":      10 * time.Minute,
		"log.level":                 "info",
		"log.format":                "json",
		"log.max_size":              100,
		"log.max_age":               30,
		"log.max_backups":           10,
		"tracing.enabled":           false,
		"tracing.service_name":      "wsroom",
		"tracing.environment":       "development",
		"tracing.exporter":          "stdout",
		"tracing.sampling_rate":     1.0,
		"redis.mode":                "standalone",
		"redis.addr":                "localhost:6379",
		"redis.channel_prefix":      "wsroom:",
		"kafka.topic":               "wsroom.events",
		"amqp.exchange":             "wsroom.events",
		"audit.driver":              "sqlite",
		"audit.table_prefix":        "wsroom_",
		"metrics.addr":              ":9100",
	}
}

// Validate 验证配置
func (s *Settings) Validate() error {
	if s.Server.BasePort <= 0 || s.Server.BasePort > 65535 {
		return fmt.Errorf("%w: server.base_port out of range: %d", ErrConfigInvalid, s.Server.BasePort)
	}
	if s.Server.MaxConnections <= 0 {
		return fmt.Errorf("%w: server.max_connections must be positive", ErrConfigInvalid)
	}
	if s.Server.HeartbeatTimeout <= s.Server.HeartbeatInterval {
		return fmt.Errorf("%w: server.heartbeat_timeout (%v) must be greater than heartbeat_interval (%v)",
			ErrConfigInvalid, s.Server.HeartbeatTimeout, s.Server.HeartbeatInterval)
	}
	if s.Rooms.MaxRoomSize < 0 {
		return fmt.Errorf("%w: rooms.max_room_size must not be negative", ErrConfigInvalid)
	}
	if s.Rooms.CleanupInterval <= 0 {
		return fmt.Errorf("%w: rooms.cleanup_interval must be positive", ErrConfigInvalid)
	}
	if s.Redis.Enabled {
		switch s.Redis.Mode {
		case "", "standalone":
			if s.Redis.Addr == "" {
				return fmt.Errorf("%w: redis.addr is required when redis is enabled", ErrConfigInvalid)
			}
		case "cluster", "sentinel":
			if len(s.Redis.Addrs) == 0 {
				return fmt.Errorf("%w: redis.addrs is required in %s mode", ErrConfigInvalid, s.Redis.Mode)
			}
		default:
			return fmt.Errorf("%w: unknown redis.mode %q", ErrConfigInvalid, s.Redis.Mode)
		}
	}
	if s.Kafka.Enabled && len(s.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.brokers is required when kafka is enabled", ErrConfigInvalid)
	}
	if s.AMQP.Enabled && s.AMQP.URL == "" {
		return fmt.Errorf("%w: amqp.url is required when amqp is enabled", ErrConfigInvalid)
	}
	if s.Audit.Enabled && s.Audit.DSN == "" {
		return fmt.Errorf("%w: audit.dsn is required when audit is enabled", ErrConfigInvalid)
	}
	return nil
}

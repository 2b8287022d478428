package orm

import (
	"fmt"
	"time"

	"github.com/tokmz/wsroom/pkg/config"
)

// Driver 数据库驱动
type Driver string

const (
	MySQL     Driver = "mysql"
	Postgres  Driver = "postgres"
	SQLite    Driver = "sqlite"
	SQLServer Driver = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Driver Driver
	DSN    string

	// 连接池
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	PrepareStmt   bool
	SlowThreshold time.Duration // 超过该耗时的语句记为慢查询
	TablePrefix   string

	// 只读副本，非空时读请求走副本
	Replicas      []string
	ReplicaPolicy string // random / round_robin

	TraceSQL bool // span 中记录完整 SQL
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:          SQLite,
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		SlowThreshold:   200 * time.Millisecond,
		TablePrefix:     "wsroom_",
		ReplicaPolicy:   "random",
	}
}

// FromSettings 从服务配置构建
func FromSettings(s config.AuditSettings) *Config {
	cfg := DefaultConfig()
	cfg.Driver = Driver(s.Driver)
	cfg.DSN = s.DSN
	cfg.Replicas = s.Replicas
	if s.TablePrefix != "" {
		cfg.TablePrefix = s.TablePrefix
	}
	if s.MaxOpenConns > 0 {
		cfg.MaxOpenConns = s.MaxOpenConns
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case MySQL, Postgres, SQLite, SQLServer:
	default:
		return ErrUnsupportedDriver.WithMessage(fmt.Sprintf("unsupported database driver: %q", c.Driver))
	}
	if c.DSN == "" {
		return ErrInvalidConfig.WithMessage("dsn is required")
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return ErrInvalidConfig.WithMessage("max idle conns exceeds max open conns")
	}
	switch c.ReplicaPolicy {
	case "", "random", "round_robin":
	default:
		return ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown replica policy: %q", c.ReplicaPolicy))
	}
	return nil
}

package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/wsroom/pkg/config"
)

// RedisMode Redis 部署模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// redisPingTimeout 建立客户端时的连通性检查超时
const redisPingTimeout = 5 * time.Second

// RedisConfig 总线使用的 Redis 客户端配置
type RedisConfig struct {
	Mode       RedisMode
	Addr       string   // 单机地址
	Addrs      []string // 集群或哨兵地址
	MasterName string   // 哨兵主节点名称
	Username   string
	Password   string
	DB         int
	PoolSize   int
}

// RedisConfigFromSettings 从服务配置构建
func RedisConfigFromSettings(s config.RedisSettings) RedisConfig {
	return RedisConfig{
		Mode:       RedisMode(s.Mode),
		Addr:       s.Addr,
		Addrs:      s.Addrs,
		MasterName: s.MasterName,
		Username:   s.Username,
		Password:   s.Password,
		DB:         s.DB,
		PoolSize:   s.PoolSize,
	}
}

// newRedisUniversalClient 按模式创建客户端，不做连通性检查
func newRedisUniversalClient(cfg RedisConfig) (redis.UniversalClient, error) {
	switch cfg.Mode {
	case RedisStandalone, "":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}), nil

	case RedisCluster:
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: redis cluster mode requires addrs", ErrInvalidConfig)
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			PoolSize: cfg.PoolSize,
		}), nil

	case RedisSentinel:
		if len(cfg.Addrs) == 0 || cfg.MasterName == "" {
			return nil, fmt.Errorf("%w: redis sentinel mode requires addrs and master name", ErrInvalidConfig)
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
		}), nil

	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrInvalidConfig, cfg.Mode)
	}
}

// NewRedisClient 创建客户端并检查连通性
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	client, err := newRedisUniversalClient(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrTransport.WithError(err)
	}
	return client, nil
}

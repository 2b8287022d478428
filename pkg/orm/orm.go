// Package orm 基于 GORM 打开数据库，接入日志、链路追踪与读写分离
package orm

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"

	"github.com/tokmz/wsroom/pkg/logger"
)

// Open 打开数据库
func Open(cfg *Config, log logger.Logger) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	db, err := gorm.Open(dialector(cfg.Driver, cfg.DSN), &gorm.Config{
		PrepareStmt: cfg.PrepareStmt,
		Logger:      newGormLogger(log, cfg.SlowThreshold),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cfg.TablePrefix,
		},
	})
	if err != nil {
		return nil, ErrOpenFailed.WithError(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ErrOpenFailed.WithError(err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if len(cfg.Replicas) > 0 {
		if err := useReplicas(db, cfg); err != nil {
			_ = sqlDB.Close()
			return nil, ErrOpenFailed.WithError(err)
		}
	}

	if err := db.Use(NewTracingPlugin(WithSQLTrace(cfg.TraceSQL))); err != nil {
		_ = sqlDB.Close()
		return nil, ErrOpenFailed.WithError(err)
	}
	return db, nil
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialector(d Driver, dsn string) gorm.Dialector {
	switch d {
	case MySQL:
		return mysql.Open(dsn)
	case Postgres:
		return postgres.Open(dsn)
	case SQLServer:
		return sqlserver.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}

// useReplicas 注册只读副本
func useReplicas(db *gorm.DB, cfg *Config) error {
	replicas := make([]gorm.Dialector, 0, len(cfg.Replicas))
	for _, dsn := range cfg.Replicas {
		replicas = append(replicas, dialector(cfg.Driver, dsn))
	}

	var policy dbresolver.Policy = dbresolver.RandomPolicy{}
	if cfg.ReplicaPolicy == "round_robin" {
		policy = dbresolver.RoundRobinPolicy()
	}

	resolver := dbresolver.Register(dbresolver.Config{
		Replicas: replicas,
		Policy:   policy,
	})
	if err := db.Use(resolver); err != nil {
		return err
	}
	resolver.SetMaxIdleConns(cfg.MaxIdleConns)
	resolver.SetMaxOpenConns(cfg.MaxOpenConns)
	resolver.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	resolver.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

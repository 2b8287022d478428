package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/config"
	"github.com/tokmz/wsroom/pkg/eventsink"
	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/metrics"
	"github.com/tokmz/wsroom/pkg/orm"
	"github.com/tokmz/wsroom/pkg/tracing"
	"github.com/tokmz/wsroom/pkg/ws"
)

// shutdownGrace 在排空时间之外留给其余组件关闭的时间
const shutdownGrace = 5 * time.Second

func main() {
	configFile := flag.String("config", "configs/server.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "wsroom: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	var log logger.Logger = logger.Nop()

	loader := config.New(
		config.WithConfigFile(configFile),
		config.WithOptionalFile(true),
		config.WithOnChange(func(s *config.Settings) {
			applyLogLevel(log, s.Log.Level)
		}),
		config.WithOnError(func(err error) {
			log.Warn("Config reload rejected", zap.Error(err))
		}),
	)
	settings, err := loader.Load()
	if err != nil {
		return err
	}

	prom := metrics.New()

	log, err = logger.FromSettings(settings.Log, prom.LogHook())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	loader.Watch()
	defer loader.Close()

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := tracing.NewTracerProvider(ctx, tracing.FromSettings(settings.Tracing)); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	opts := append(ws.FromSettings(settings),
		ws.WithLogger(log),
		ws.WithMetrics(prom),
	)

	if settings.Redis.Enabled {
		client, err := ws.NewRedisClient(ctx, ws.RedisConfigFromSettings(settings.Redis))
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		bus := ws.NewRedisBus(client, settings.Redis.ChannelPrefix, log)
		defer bus.Close()
		opts = append(opts, ws.WithBus(bus))
		log.Info("Redis bus enabled", zap.String("mode", settings.Redis.Mode))
	}

	hub, err := ws.NewHub(opts...)
	if err != nil {
		return err
	}

	sinks, audit, err := attachSinks(settings, hub, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Warn("Event sink close failed", zap.Error(err))
			}
		}
	}()

	router, err := newChatRouter(hub, log)
	if err != nil {
		return err
	}
	if _, err := hub.Handle("/chat", router); err != nil {
		return err
	}

	if err := hub.Run(ctx); err != nil {
		log.Error("Some listeners failed to start", zap.Error(err))
	}
	for _, reg := range hub.Listeners().Registrations() {
		if addr, ok := hub.Addr(reg.Path); ok {
			log.Info("Serving", zap.String("path", reg.Path), zap.String("addr", addr))
		}
	}

	var admin *http.Server
	if settings.Metrics.Addr != "" {
		admin = &http.Server{
			Addr:              settings.Metrics.Addr,
			Handler:           newAdminEngine(hub, prom, audit, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Admin server failed", zap.Error(err))
			}
		}()
		log.Info("Admin server started", zap.String("addr", settings.Metrics.Addr))
	}

	<-ctx.Done()
	log.Info("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), settings.Server.DrainTimeout+shutdownGrace)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(sctx); err != nil {
			log.Warn("Admin server shutdown failed", zap.Error(err))
		}
	}
	drainCtx, drainCancel := context.WithTimeout(sctx, settings.Server.DrainTimeout)
	defer drainCancel()
	if err := hub.Shutdown(drainCtx); err != nil {
		log.Warn("Hub shutdown forced", zap.Error(err))
	}
	return nil
}

// attachSinks 按配置创建事件导出，审计导出器单独返回供管理端口查询
func attachSinks(s *config.Settings, hub *ws.Hub, log logger.Logger) ([]*eventsink.Sink, *eventsink.GormExporter, error) {
	var (
		sinks []*eventsink.Sink
		audit *eventsink.GormExporter
	)
	add := func(name string, exp eventsink.Exporter) {
		sink := eventsink.New(exp, eventsink.WithLogger(log.With(zap.String("sink", name))))
		sink.Attach(hub.Events())
		sinks = append(sinks, sink)
	}
	fail := func(err error) ([]*eventsink.Sink, *eventsink.GormExporter, error) {
		for _, sink := range sinks {
			_ = sink.Close()
		}
		return nil, nil, err
	}

	if s.Kafka.Enabled {
		exp, err := eventsink.NewKafkaExporter(s.Kafka.Brokers, s.Kafka.Topic, nil)
		if err != nil {
			return fail(err)
		}
		add("kafka", exp)
		log.Info("Kafka event sink enabled", zap.String("topic", s.Kafka.Topic))
	}

	if s.AMQP.Enabled {
		exp, err := eventsink.DialAMQP(s.AMQP.URL, s.AMQP.Exchange)
		if err != nil {
			return fail(err)
		}
		add("amqp", exp)
		log.Info("AMQP event sink enabled", zap.String("exchange", s.AMQP.Exchange))
	}

	if s.Audit.Enabled {
		db, err := orm.Open(orm.FromSettings(s.Audit), log)
		if err != nil {
			return fail(err)
		}
		audit, err = eventsink.NewGormExporter(db)
		if err != nil {
			_ = orm.Close(db)
			return fail(err)
		}
		add("audit", audit)
		log.Info("Audit event sink enabled", zap.String("driver", s.Audit.Driver))
	}

	return sinks, audit, nil
}

// applyLogLevel 热更新日志级别
func applyLogLevel(log logger.Logger, level string) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		log.Warn("Ignoring invalid log level", zap.String("level", level))
		return
	}
	if lvl != log.Level() {
		log.SetLevel(lvl)
		log.Info("Log level changed", zap.String("level", lvl.String()))
	}
}

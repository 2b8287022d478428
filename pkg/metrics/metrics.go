package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"

	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/ws"
)

var _ ws.Metrics = (*Prometheus)(nil)

// Prometheus ws.Metrics 的 Prometheus 实现
type Prometheus struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	rejected         prometheus.Counter

	messages       *prometheus.CounterVec
	messageErrors  *prometheus.CounterVec
	messageLatency *prometheus.HistogramVec

	rooms              prometheus.Gauge
	roomMembers        *prometheus.GaugeVec
	broadcasts         prometheus.Counter
	broadcastDelivered prometheus.Counter
	broadcastDuration  prometheus.Histogram

	readErrors      prometheus.Counter
	writeErrors     prometheus.Counter
	invalidMessages prometheus.Counter
	droppedEvents   prometheus.Counter
	panics          *prometheus.CounterVec

	logEntries *prometheus.CounterVec
}

type options struct {
	namespace      string
	registry       *prometheus.Registry
	buckets        []float64
	runtimeMetrics bool
}

// Option 选项
type Option func(*options)

// WithNamespace 指标名前缀（默认 wsroom）
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithRegistry 使用已有的注册表
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithBuckets 延迟直方图的分桶（秒）
func WithBuckets(b []float64) Option {
	return func(o *options) {
		o.buckets = b
	}
}

// WithRuntimeMetrics 是否注册 Go 运行时与进程指标
func WithRuntimeMetrics(enable bool) Option {
	return func(o *options) {
		o.runtimeMetrics = enable
	}
}

// New 创建并注册所有指标
func New(opts ...Option) *Prometheus {
	o := &options{
		namespace:      "wsroom",
		buckets:        prometheus.DefBuckets,
		runtimeMetrics: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	ns := o.namespace
	p := &Prometheus{
		registry: o.registry,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "connections", Name: "active",
			Help: "Number of registered connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connections", Name: "total",
			Help: "Total number of accepted connections.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connections", Name: "rejected_total",
			Help: "Connections rejected because the connection limit was reached.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "messages", Name: "total",
			Help: "Routed messages by event.",
		}, []string{"event"}),
		messageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "messages", Name: "errors_total",
			Help: "Message handler errors by event.",
		}, []string{"event"}),
		messageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "messages", Name: "duration_seconds",
			Help:    "Message handling latency by event.",
			Buckets: o.buckets,
		}, []string{"event"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "rooms", Name: "active",
			Help: "Number of live rooms.",
		}),
		roomMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "rooms", Name: "members",
			Help: "Members per room.",
		}, []string{"room"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "total",
			Help: "Room broadcasts.",
		}),
		broadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "delivered_total",
			Help: "Frames delivered by room broadcasts.",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "duration_seconds",
			Help:    "Room broadcast fan-out latency.",
			Buckets: o.buckets,
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "errors", Name: "read_total",
			Help: "Unexpected transport read failures.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "errors", Name: "write_total",
			Help: "Transport write failures during sends and broadcasts.",
		}),
		invalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "errors", Name: "invalid_messages_total",
			Help: "Frames that could not be decoded as messages.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "events", Name: "dropped_total",
			Help: "Lifecycle events dropped because the event queue was full.",
		}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "errors", Name: "panics_total",
			Help: "Recovered panics by scope.",
		}, []string{"scope"}),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "log", Name: "entries_total",
			Help: "Log entries written by level.",
		}, []string{"level"}),
	}

	p.registry.MustRegister(
		p.connections, p.connectionsTotal, p.rejected,
		p.messages, p.messageErrors, p.messageLatency,
		p.rooms, p.roomMembers, p.broadcasts, p.broadcastDelivered, p.broadcastDuration,
		p.readErrors, p.writeErrors, p.invalidMessages, p.droppedEvents, p.panics,
		p.logEntries,
	)
	if o.runtimeMetrics {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return p
}

// Registry 指标注册表
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler 以 Prometheus 文本格式暴露指标
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) IncrementConnections() {
	p.connections.Inc()
	p.connectionsTotal.Inc()
}

func (p *Prometheus) DecrementConnections() { p.connections.Dec() }

func (p *Prometheus) IncrementRejectedConnections() { p.rejected.Inc() }

func (p *Prometheus) IncrementMessageCount(event string) {
	p.messages.WithLabelValues(event).Inc()
}

func (p *Prometheus) IncrementMessageErrors(event string) {
	p.messageErrors.WithLabelValues(event).Inc()
}

func (p *Prometheus) RecordMessageLatency(event string, d time.Duration) {
	p.messageLatency.WithLabelValues(event).Observe(d.Seconds())
}

func (p *Prometheus) SetRoomCount(count int) { p.rooms.Set(float64(count)) }

func (p *Prometheus) SetRoomMemberCount(room string, count int) {
	p.roomMembers.WithLabelValues(room).Set(float64(count))
}

// DeleteRoom 删除房间的成员数序列
func (p *Prometheus) DeleteRoom(room string) {
	p.roomMembers.DeleteLabelValues(room)
}

func (p *Prometheus) RecordBroadcast(room string, delivered int, d time.Duration) {
	p.broadcasts.Inc()
	p.broadcastDelivered.Add(float64(delivered))
	p.broadcastDuration.Observe(d.Seconds())
}

func (p *Prometheus) IncrementReadErrors() { p.readErrors.Inc() }

func (p *Prometheus) IncrementWriteErrors() { p.writeErrors.Inc() }

func (p *Prometheus) IncrementInvalidMessages() { p.invalidMessages.Inc() }

func (p *Prometheus) IncrementDroppedEvents() { p.droppedEvents.Inc() }

func (p *Prometheus) IncrementPanics(scope string) {
	p.panics.WithLabelValues(scope).Inc()
}

// LogHook 返回按级别统计日志条数的 Hook
func (p *Prometheus) LogHook() logger.Hook {
	return logger.HookFunc(func(e zapcore.Entry, _ []zapcore.Field) error {
		p.logEntries.WithLabelValues(e.Level.String()).Inc()
		return nil
	})
}

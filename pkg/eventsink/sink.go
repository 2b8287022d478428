// Package eventsink 将 Hub 生命周期事件导出到外部消息系统
package eventsink

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/errors"
	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/ws"
)

var (
	// ErrExportFailed 事件写入外部系统失败
	ErrExportFailed = errors.New(3201, "event export failed")
	// ErrEncodeFailed 事件编码失败
	ErrEncodeFailed = errors.New(3202, "event encode failed")
	// ErrConnectFailed 连接外部系统失败
	ErrConnectFailed = errors.New(3203, "event sink connect failed")
)

// defaultExportTimeout 单条事件导出超时
const defaultExportTimeout = 5 * time.Second

// Exporter 事件导出器
type Exporter interface {
	Export(ctx context.Context, e ws.Event) error
	Close() error
}

// Source 事件来源，*ws.EventBus 满足该接口
type Source interface {
	SubscribeAll(handler ws.EventHandler)
}

// Sink 订阅事件并交给导出器，导出失败只记录日志
type Sink struct {
	exporter Exporter
	logger   logger.Logger
	timeout  time.Duration
	types    map[ws.EventType]bool
}

// Option Sink 选项
type Option func(*Sink)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Sink) {
		s.logger = l
	}
}

// WithTimeout 设置单条导出超时
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		s.timeout = d
	}
}

// WithTypes 只导出指定类型的事件
func WithTypes(types ...ws.EventType) Option {
	return func(s *Sink) {
		s.types = make(map[ws.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// New 创建 Sink
func New(exp Exporter, opts ...Option) *Sink {
	s := &Sink{
		exporter: exp,
		logger:   logger.Nop(),
		timeout:  defaultExportTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach 订阅事件来源
func (s *Sink) Attach(src Source) {
	src.SubscribeAll(s.Handle)
}

// Handle 导出一条事件
func (s *Sink) Handle(e ws.Event) {
	if s.types != nil && !s.types[e.Type] {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.exporter.Export(ctx, e); err != nil {
		s.logger.Warn("Event export failed",
			zap.String("type", string(e.Type)),
			zap.String("conn_id", e.ConnID),
			zap.Error(err),
		)
	}
}

// Close 关闭导出器
func (s *Sink) Close() error {
	return s.exporter.Close()
}

// encode 事件的 JSON 记录
func encode(e ws.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, ErrEncodeFailed.WithError(err)
	}
	return data, nil
}

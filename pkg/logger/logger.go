package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	connIDKey  contextKey = "conn_id"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	DPanic(msg string, fields ...zap.Field)
	Panic(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	// 自动附加 context 中的 trace_id、span_id 与 conn_id
	DebugContext(ctx context.Context, msg string, fields ...zap.Field)
	InfoContext(ctx context.Context, msg string, fields ...zap.Field)
	WarnContext(ctx context.Context, msg string, fields ...zap.Field)
	ErrorContext(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error
	SetLevel(level Level)
	Level() Level
}

// logger 日志实现
type logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel // 子 Logger 共享
}

// New 按配置创建 Logger
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if !cfg.Format.IsValid() {
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	level := zap.NewAtomicLevelAt(cfg.Level.toZapLevel())
	core, err := buildCore(cfg, level)
	if err != nil {
		return nil, err
	}

	var opts []zap.Option
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if cfg.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return &logger{zap: zap.New(core, opts...), level: level}, nil
}

// NewWithOptions 以选项创建 Logger
func NewWithOptions(opts ...Option) (Logger, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

// Nop 不输出任何内容，组件未注入日志时使用
func Nop() Logger {
	return &logger{
		zap:   zap.NewNop(),
		level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
}

func (l *logger) Debug(msg string, fields ...zap.Field)  { l.zap.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...zap.Field)   { l.zap.Info(msg, fields...) }
func (l *logger) Warn(msg string, fields ...zap.Field)   { l.zap.Warn(msg, fields...) }
func (l *logger) Error(msg string, fields ...zap.Field)  { l.zap.Error(msg, fields...) }
func (l *logger) DPanic(msg string, fields ...zap.Field) { l.zap.DPanic(msg, fields...) }
func (l *logger) Panic(msg string, fields ...zap.Field)  { l.zap.Panic(msg, fields...) }
func (l *logger) Fatal(msg string, fields ...zap.Field)  { l.zap.Fatal(msg, fields...) }

func (l *logger) DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, withContextFields(ctx, true, fields)...)
}

func (l *logger) InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, withContextFields(ctx, true, fields)...)
}

func (l *logger) WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, withContextFields(ctx, true, fields)...)
}

func (l *logger) ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, withContextFields(ctx, true, fields)...)
}

// withContextFields 在 fields 前加上 trace_id、span_id 与 conn_id
// span 随调用变化，子 Logger 不固化 span_id
func withContextFields(ctx context.Context, span bool, fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+3)
	if id, ok := ctx.Value(traceIDKey).(string); ok && id != "" {
		out = append(out, zap.String("trace_id", id))
	}
	if span {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			out = append(out, zap.String("span_id", sc.SpanID().String()))
		}
	}
	if id := ConnIDFromContext(ctx); id != "" {
		out = append(out, zap.String("conn_id", id))
	}
	return append(out, fields...)
}

func (l *logger) With(fields ...zap.Field) Logger {
	return &logger{zap: l.zap.With(fields...), level: l.level}
}

// WithContext 固化 context 中的 trace_id 与 conn_id
func (l *logger) WithContext(ctx context.Context) Logger {
	return l.With(withContextFields(ctx, false, nil)...)
}

func (l *logger) Sync() error { return l.zap.Sync() }

// SetLevel 运行时调整级别，对所有子 Logger 生效
func (l *logger) SetLevel(level Level) { l.level.SetLevel(level.toZapLevel()) }

func (l *logger) Level() Level { return fromZapLevel(l.level.Level()) }

package tracing

import (
	"time"

	"github.com/tokmz/wsroom/pkg/config"
	"github.com/tokmz/wsroom/pkg/errors"
)

// ErrInvalidConfig 追踪配置无效
var ErrInvalidConfig = errors.New(3101, "tracing config invalid")

// Exporter Span 导出方式
type Exporter string

const (
	ExporterOTLP     Exporter = "otlp" // OTLP over HTTP
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterStdout   Exporter = "stdout"
	ExporterNoop     Exporter = "noop" // 只生成 TraceID，不导出
)

// Config 链路追踪配置
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string

	Exporter Exporter
	Endpoint string // 为空时读取 OTEL_EXPORTER_OTLP_ENDPOINT
	Headers  map[string]string
	Insecure bool

	// 根 Span 的采样比例，子 Span 跟随上游决定
	// 设置了 OTEL_TRACES_SAMPLER 时以环境变量为准
	SampleRatio float64

	Attributes map[string]string

	BatchTimeout time.Duration
	MaxBatchSize int
	MaxQueueSize int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		ServiceName:    "wsroom",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Exporter:       ExporterStdout,
		SampleRatio:    1,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		MaxQueueSize:   2048,
	}
}

// FromSettings 由服务配置构建追踪配置
func FromSettings(s config.TracingSettings) *Config {
	cfg := DefaultConfig()
	cfg.Enabled = s.Enabled
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if s.Environment != "" {
		cfg.Environment = s.Environment
	}
	if s.Exporter != "" {
		cfg.Exporter = Exporter(s.Exporter)
	}
	cfg.Endpoint = s.Endpoint
	cfg.Insecure = s.Insecure
	cfg.SampleRatio = s.SamplingRate
	return cfg
}

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return ErrInvalidConfig.WithMessage("sample ratio must be within [0, 1]")
	}
	switch c.Exporter {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
		return nil
	}
	return ErrInvalidConfig.WithMessage("unknown exporter: " + string(c.Exporter))
}

package logger

import "go.uber.org/zap/zapcore"

// Format 输出格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

func (f Format) String() string { return string(f) }

// IsValid 是否为支持的格式
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// Config 日志配置
type Config struct {
	Level  Level
	Format Format

	Console bool          // 输出到 stdout
	File    string        // 追加写入的文件，不轮转
	Rotate  *RotateConfig // 轮转文件

	// 高频日志（如每条消息的调试日志）按秒采样
	Sampling *SamplingConfig

	Caller     bool
	Stacktrace bool // Error 及以上附带堆栈

	Hooks []Hook
}

// RotateConfig 轮转文件配置，由 lumberjack 执行
type RotateConfig struct {
	Filename   string
	MaxSize    int // MB
	MaxAge     int // 天
	MaxBackups int
	Compress   bool
}

// SamplingConfig 每秒前 Initial 条全部记录，之后每 Thereafter 条记录一条
type SamplingConfig struct {
	Initial    int
	Thereafter int
}

// Hook 在日志写出前调用，返回错误会中止本条写出
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数形式的 Hook
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	if r := c.Rotate; r != nil {
		if r.MaxSize <= 0 {
			r.MaxSize = 100
		}
		if r.MaxAge <= 0 {
			r.MaxAge = 30
		}
		if r.MaxBackups <= 0 {
			r.MaxBackups = 10
		}
	}
	if s := c.Sampling; s != nil {
		if s.Initial <= 0 {
			s.Initial = 100
		}
		if s.Thereafter <= 0 {
			s.Thereafter = 100
		}
	}
}

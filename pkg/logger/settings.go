package logger

import (
	"fmt"

	"github.com/tokmz/wsroom/pkg/config"
)

// FromSettings 由服务配置创建 Logger
// File 非空时同时写入轮转文件
func FromSettings(s config.LogSettings, hooks ...Hook) (Logger, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", s.Level, err)
	}
	format := Format(s.Format)
	if !format.IsValid() {
		return nil, fmt.Errorf("unknown log format %q", s.Format)
	}

	opts := []Option{
		WithLevel(level),
		WithFormat(format),
		WithConsoleOutput(),
		WithCaller(true),
		WithStacktrace(true),
	}
	if s.File != "" {
		opts = append(opts, WithRotateOutput(&RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}))
	}
	if s.Sampling {
		opts = append(opts, WithSampling(nil))
	}
	for _, h := range hooks {
		opts = append(opts, WithHook(h))
	}
	return NewWithOptions(opts...)
}

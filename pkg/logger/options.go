package logger

// Option 配置选项
type Option func(*Config)

func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsoleOutput 输出到 stdout
func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

// WithFileOutput 追加写入文件
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotateOutput 写入轮转文件
func WithRotateOutput(r *RotateConfig) Option {
	return func(c *Config) { c.Rotate = r }
}

// WithSampling 开启采样，nil 使用默认值
func WithSampling(s *SamplingConfig) Option {
	return func(c *Config) {
		if s == nil {
			s = &SamplingConfig{}
		}
		c.Sampling = s
	}
}

func WithCaller(enable bool) Option {
	return func(c *Config) { c.Caller = enable }
}

func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.Stacktrace = enable }
}

// WithHook 追加 Hook
func WithHook(h Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, h) }
}

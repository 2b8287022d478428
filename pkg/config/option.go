package config

import "strings"

// Option 配置选项函数
type Option func(*Loader)

// WithConfigFile 指定配置文件完整路径
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.configFile = path
	}
}

// WithConfigName 设置配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(l *Loader) {
		l.configName = name
	}
}

// WithConfigType 设置配置文件类型（如 yaml, json, toml）
func WithConfigType(typ string) Option {
	return func(l *Loader) {
		l.configType = typ
	}
}

// WithConfigPaths 设置配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithOptionalFile 配置文件不存在时仅使用默认值和环境变量
func WithOptionalFile(optional bool) Option {
	return func(l *Loader) {
		l.optional = optional
	}
}

// WithOnChange 设置配置变更回调函数
// 仅在新配置解析并验证成功后触发
func WithOnChange(fn func(*Settings)) Option {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// WithOnError 设置错误回调函数
func WithOnError(fn func(error)) Option {
	return func(l *Loader) {
		l.onError = fn
	}
}

// WithDefaults 设置额外默认配置值
func WithDefaults(defaults map[string]any) Option {
	return func(l *Loader) {
		l.defaults = defaults
	}
}

// WithEnvPrefix 设置环境变量前缀（默认 WSROOM，空字符串禁用）
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithEnvKeyReplacer 设置环境变量键名替换器
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(l *Loader) {
		l.envKeyReplacer = r
	}
}

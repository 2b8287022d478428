package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Loader 配置加载器
type Loader struct {
	viper *viper.Viper // viper 实例
	mu    sync.RWMutex // 并发保护锁

	// 配置文件相关
	configFile  string   // 配置文件完整路径
	configName  string   // 配置文件名（不含扩展名）
	configType  string   // 配置文件类型
	configPaths []string // 配置文件搜索路径
	optional    bool     // 配置文件不存在时是否使用默认值
	fileLoaded  bool     // 配置文件是否实际读取成功

	// 监控相关
	watching bool            // 是否正在监控
	onChange func(*Settings) // 配置变更回调
	onError  func(error)     // 错误回调
	current  *Settings       // 最近一次成功加载的配置

	// 其他选项
	defaults       map[string]any    // 额外默认值（覆盖内置默认值）
	envPrefix      string            // 环境变量前缀
	envKeyReplacer *strings.Replacer // 环境变量键名替换器
}

// New 创建配置加载器
func New(opts ...Option) *Loader {
	l := &Loader{
		viper:          viper.New(),
		envPrefix:      "WSROOM",
		envKeyReplacer: strings.NewReplacer(".", "_"),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load 便捷方法：创建加载器并读取配置
func Load(opts ...Option) (*Settings, error) {
	return New(opts...).Load()
}

// Load 读取配置文件、环境变量并解析为 Settings
func (l *Loader) Load() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 设置默认值
	for k, v := range defaultValues() {
		l.viper.SetDefault(k, v)
	}
	for k, v := range l.defaults {
		l.viper.SetDefault(k, v)
	}

	// 设置环境变量
	if l.envPrefix != "" {
		l.viper.SetEnvPrefix(l.envPrefix)
		l.viper.AutomaticEnv()
	}
	if l.envKeyReplacer != nil {
		l.viper.SetEnvKeyReplacer(l.envKeyReplacer)
	}

	// 设置配置文件
	if l.configFile != "" {
		l.viper.SetConfigFile(l.configFile)
	} else {
		if l.configName != "" {
			l.viper.SetConfigName(l.configName)
		}
		if l.configType != "" {
			l.viper.SetConfigType(l.configType)
		}
		for _, path := range l.configPaths {
			l.viper.AddConfigPath(path)
		}
	}

	l.fileLoaded = false
	if l.configFile != "" || l.configName != "" {
		err := l.viper.ReadInConfig()
		switch {
		case err == nil:
			l.fileLoaded = true
		case !isNotFound(err):
			return nil, fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
		case !l.optional:
			return nil, fmt.Errorf("%w: %w", ErrConfigNotFound, err)
		}
	}

	s, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.current = s
	return s, nil
}

// Settings 返回最近一次成功加载的配置
func (l *Loader) Settings() *Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ConfigFileUsed 返回实际读取的配置文件路径
func (l *Loader) ConfigFileUsed() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.viper.ConfigFileUsed()
}

// decode 解析并验证配置
// 调用方必须持有 mu 锁
func (l *Loader) decode() (*Settings, error) {
	var s Settings
	if err := l.viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigReadFailed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// isNotFound 判断是否为配置文件不存在
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Close 停止监控
func (l *Loader) Close() {
	l.StopWatch()
}

package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch 开始监控配置文件变更
// 已在监控中，或 Load 未实际读到配置文件（可选文件缺失）时不做任何事
func (l *Loader) Watch() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watching || !l.fileLoaded {
		return
	}

	l.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.reload()
	})
	l.viper.WatchConfig()
	l.watching = true
}

// StopWatch 停止监控配置文件
// 注意：viper 未提供停止底层 fsnotify watcher 的方法，
// 此方法仅标记状态使回调不再生效
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watching = false
}

// reload 文件变更后重新解析配置
// viper 在回调前已重新读取文件
func (l *Loader) reload() {
	l.mu.Lock()
	if !l.watching {
		l.mu.Unlock()
		return
	}
	s, err := l.decode()
	if err == nil {
		l.current = s
	}
	onChange := l.onChange
	l.mu.Unlock()

	// 释放锁后调用用户回调，避免死锁
	if err != nil {
		l.reportError(fmt.Errorf("reload config: %w", err))
		return
	}
	if onChange != nil {
		onChange(s)
	}
}

// reportError 报告错误，优先使用 onError 回调，否则输出到 stderr
func (l *Loader) reportError(err error) {
	l.mu.RLock()
	onError := l.onError
	l.mu.RUnlock()

	if onError != nil {
		onError(err)
	} else {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
	}
}

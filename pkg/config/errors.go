package config

import "github.com/tokmz/wsroom/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, "config file not found")
	// ErrConfigInvalid 配置值无效
	ErrConfigInvalid = errors.New(3002, "config invalid")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, "config read failed")
)

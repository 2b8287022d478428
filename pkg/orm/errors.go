package orm

import "github.com/tokmz/wsroom/pkg/errors"

var (
	// ErrInvalidConfig 数据库配置无效
	ErrInvalidConfig = errors.New(3301, "invalid database config")
	// ErrUnsupportedDriver 不支持的驱动
	ErrUnsupportedDriver = errors.New(3302, "unsupported database driver")
	// ErrOpenFailed 打开数据库失败
	ErrOpenFailed = errors.New(3303, "open database failed")
)

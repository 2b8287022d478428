// Package errors 带错误码的错误类型
// 包内预定义的错误是共享值，附加信息时使用 WithMessage/WithError 得到新实例
package errors

import "errors"

// Error 带错误码的错误，errors.Is 按 Code 比较
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"` // 底层原因
}

// New 创建错误，cause 至多取第一个
func New(code int, message string, cause ...error) *Error {
	e := &Error{Code: code, Message: message}
	if len(cause) > 0 {
		e.Err = cause[0]
	}
	return e
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同码即相等，否则继续比较底层原因
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// WithError 同码同信息，换底层原因
func (e *Error) WithError(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

// WithMessage 同码同原因，换信息
func (e *Error) WithMessage(message string) *Error {
	return &Error{Code: e.Code, Message: message, Err: e.Err}
}

// CodeOf 错误链中第一个 *Error 的错误码，没有时为 0
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }

// Package errors 哨兵错误与包装辅助；存储层返回哨兵，HTTP 层据此映射状态码
package errors

import (
	"errors"
	"fmt"
)

// 跨层共享的哨兵错误
var (
	ErrNotFound   = errors.New("not found")        // 映射 404
	ErrInvalidArg = errors.New("invalid argument") // 映射 400
)

// Wrap 附加上下文并保留错误链，nil 入 nil 出
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

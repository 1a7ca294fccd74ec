package models

import (
	"errors"
	"fmt"
)

// 错误分类。生产方同时包装分类与根因, 调用方用 errors.Is 判断。
var (
	ErrConfiguration = errors.New("configuration error")
	ErrExchange      = errors.New("exchange error")
	ErrStorage       = errors.New("storage error")
	ErrFeed          = errors.New("feed error")
)

// ConfigurationError 包装配置类错误
func ConfigurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// ExchangeError 包装交易所调用失败
func ExchangeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrExchange, err)
}

// StorageError 包装存储读写失败
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// FeedError 包装行情推送失败
func FeedError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrFeed, err)
}

// Kind 返回错误所属分类的名称, 用于日志与指标
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrExchange):
		return "exchange"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrFeed):
		return "feed"
	default:
		return "unknown"
	}
}

package venue

import (
	"context"
	"errors"
)

var (
	// ErrVenueUnavailable 表示场所暂时不可用，询价失败。
	ErrVenueUnavailable = errors.New("venue unavailable")
	// ErrTimeout 表示单次调用超出了配置的时限。
	ErrTimeout = errors.New("venue call timed out")
	// ErrExecutionFailed 表示场所执行换币失败。
	ErrExecutionFailed = errors.New("execution failed")
	// ErrRejected 表示场所拒绝了该笔订单。
	ErrRejected = errors.New("order rejected by venue")
)

// IsRetryable 判断错误是否可重试。
// 参考行为里所有场所级失败都走同一条重试路径，直到次数耗尽。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrVenueUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrExecutionFailed),
		errors.Is(err, ErrRejected):
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

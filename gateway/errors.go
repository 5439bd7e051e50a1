package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound 交易所不认识此订单，轮询时跳过本轮。
	ErrOrderNotFound = errors.New("gateway: order not found")
	// ErrInvalidRequest 请求参数不合法，不会发往交易所。
	ErrInvalidRequest = errors.New("gateway: invalid request")
	// ErrRejected 交易所同步拒单。
	ErrRejected = errors.New("gateway: order rejected")
)

// TransientError 网络或限流等暂时性错误，下一轮重试即可。
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s (transient): %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient 包装为 TransientError。
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

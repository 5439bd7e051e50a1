package risk

import "errors"

var (
	ErrAmountExceed     = errors.New("position amount exceed")
	ErrTooManyPositions = errors.New("too many open positions")
	ErrConstraint       = errors.New("order constraint violated")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

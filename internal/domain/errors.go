package domain

import "errors"

var (
	// ErrInvalidOrder marks an order request that violates a basic
	// invariant (non-positive quantity, unknown side, empty symbol). It
	// signals a caller bug, not a market condition.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidQuote marks a quote with negative prices or no usable price.
	ErrInvalidQuote = errors.New("invalid quote")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig marks a configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrIllegalTransition is returned when an order is moved between
	// states the lifecycle does not allow.
	ErrIllegalTransition = errors.New("illegal order state transition")
)

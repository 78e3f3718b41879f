package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
)

// Position lifecycle errors
var (
	// ErrTransientAPI marks a network or 5xx-class failure that may succeed on retry
	ErrTransientAPI = errors.New("transient api failure")
	// ErrRetriesExhausted is matched by order.RetriesExhaustedError
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrUnknownInstrument  = errors.New("unknown instrument")
	ErrStreamDisconnected = errors.New("stream disconnected")
	ErrPositionNotFound   = errors.New("position not found")
)

// IsTransient reports errors worth another attempt
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientAPI) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrSystemOverload)
}

package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Intake gating
	ErrAutoTradeDisabled = errors.New("auto-trading is disabled")
	ErrNoAccount         = errors.New("no broker account configured")
	ErrNoCapacity        = errors.New("no open position slots available")

	// Broker Specific Errors
	ErrBrokerUnavailable    = errors.New("broker gateway is unavailable")
	ErrContractNotFound     = errors.New("no tradable contract found for symbol")
	ErrQuoteUnavailable     = errors.New("live quote unavailable")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderRejected        = errors.New("order rejected by broker")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

package payment

import "errors"

var (
	// ErrNotInitialized is returned when a client is requested before any
	// provider has been registered.
	ErrNotInitialized = errors.New("payment registry not initialized: no providers registered")

	// ErrUnknownProvider is returned when an explicit provider key does
	// not match any registered provider. It is never resolved by falling
	// back to the default.
	ErrUnknownProvider = errors.New("unknown payment provider")

	// ErrPaymentNotFound is returned by stores when no record matches the
	// session id.
	ErrPaymentNotFound = errors.New("payment record not found")

	// ErrUnknownModel is returned when a target model name does not match
	// any registered model.
	ErrUnknownModel = errors.New("unknown payment model")

	// ErrInvalidState is returned by the admin layer when a manual state
	// edit names an unrecognized state.
	ErrInvalidState = errors.New("invalid payment state")
)

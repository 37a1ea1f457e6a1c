package crdt

import "errors"

// Position errors
var (
	// ErrInvalidPosition indicates that an offset is outside the visible text.
	ErrInvalidPosition = errors.New("position out of bounds")
)

// Integration errors
var (
	// ErrUnknownItem indicates that an op refers to a character this replica has not seen.
	// Such ops are parked until the missing insert arrives.
	ErrUnknownItem = errors.New("unknown item")

	// ErrUnknownAction indicates that an op carries an action this replica does not understand.
	ErrUnknownAction = errors.New("unknown op action")
)

// Map errors
var (
	// ErrEmptyKey indicates that a map write used an empty key.
	ErrEmptyKey = errors.New("empty map key")

	// ErrTransactionFailed indicates that a transaction callback failed and nothing was applied.
	ErrTransactionFailed = errors.New("transaction failed")
)

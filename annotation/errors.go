package annotation

import "errors"

// Anchor errors
var (
	// ErrUnresolvedAnchor indicates that an anchor no longer maps to a position in the snapshot.
	ErrUnresolvedAnchor = errors.New("anchor does not resolve")

	// ErrDegenerateSpan indicates that a span resolved to zero (or negative) width.
	ErrDegenerateSpan = errors.New("span collapsed to zero width")

	// ErrInvalidRange indicates an add with from >= to or offsets outside the document.
	ErrInvalidRange = errors.New("invalid annotation range")
)

// Store errors
var (
	// ErrNotFound indicates that an update or delete referenced a missing annotation.
	ErrNotFound = errors.New("annotation not found")

	// ErrStoreUnavailable indicates that the replicated store rejected a write.
	ErrStoreUnavailable = errors.New("annotation store unavailable")

	// ErrCorruptRecord indicates that a stored record could not be decoded.
	ErrCorruptRecord = errors.New("corrupt annotation record")
)

// Action errors
var (
	// ErrUnknownAction indicates a change event carrying an action type the engine does not know.
	ErrUnknownAction = errors.New("unknown annotation action")
)

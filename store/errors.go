package store

import "github.com/pkg/errors"

// Domain error taxonomy. Drivers and services wrap these sentinels so callers
// can classify failures with errors.Is regardless of which layer raised them.
var (
	// ErrNotFound is returned when a referenced conversation, message,
	// artifact or artifact version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation is returned when an operation is applied to the
	// wrong kind of row, e.g. editing a non-user message or regenerating a
	// non-assistant message.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrUpstreamFailure is returned when the model service fails or returns
	// malformed output.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrAborted is returned when the client cancels an in-flight turn.
	// It is not a true error: work persisted before the abort is retained.
	ErrAborted = errors.New("aborted")
)

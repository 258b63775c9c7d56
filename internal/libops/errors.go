package libops

import "errors"

// Sentinel errors for the update-session protocol.
// Use errors.Is to check; remote-call failures additionally wrap the
// vapi sentinels (vapi.ErrConflict, vapi.ErrNotFound, ...).
var (
	// ErrInvalidState is returned when a mutating operation is attempted on
	// a session in a terminal state. No remote call is made.
	ErrInvalidState = errors.New("libops: session in invalid state")

	// ErrDefunct is returned when the session was found missing server-side.
	// The condition is not retriable under the same session ID.
	ErrDefunct = errors.New("libops: session defunct")

	// ErrUnsupportedProtocol is returned for a source locator whose scheme
	// is not recognized and no explicit source type override was given.
	ErrUnsupportedProtocol = errors.New("libops: unsupported source protocol")

	// ErrTransferFailed is returned when the asynchronous upload fails.
	ErrTransferFailed = errors.New("libops: transfer failed")
)

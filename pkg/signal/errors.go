package signal

import "errors"

var (
	errSignalNoPriority = errors.New("signal: priority must be non-zero")
	errSignalNoSource   = errors.New("signal: source is required")
	errSignalNoKind     = errors.New("signal: kind is required")

	// ErrUnknownHandle names a handle that was never registered or has
	// already been unsubscribed. Unsubscribe does not return it: it has no
	// return value and silently ignores such handles.
	ErrUnknownHandle = errors.New("signal: unknown subscription handle")
)

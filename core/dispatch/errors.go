package dispatch

import "errors"

var (
	// ErrNoResourceAvailable is returned when no ambulance can be bound. It
	// is recoverable: the request parks in waiting-for-resource and is
	// retried, never dropped.
	ErrNoResourceAvailable = errors.New("dispatch: no ambulance available")

	// ErrInvalidTransition is returned when a trigger is not permitted from
	// the request's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("dispatch: invalid lifecycle transition")

	// ErrStaleOperation marks an action that references an attempt or unit
	// the request has since moved past, such as a late accept after a
	// timeout reassignment. It is a no-op, logged but not surfaced to users.
	ErrStaleOperation = errors.New("dispatch: stale operation")
)

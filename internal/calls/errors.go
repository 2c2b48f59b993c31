package calls

import "errors"

// Expected outcomes of client requests. All map to a terminal response for
// the requesting connection only; none should crash the process.
var (
	ErrSelfCall            = errors.New("calls: cannot call yourself")
	ErrAlreadyActive       = errors.New("calls: a participant already has an active call")
	ErrReceiverUnavailable = errors.New("calls: receiver is unavailable for calls")
	ErrCallNotFound        = errors.New("calls: call not found")
	ErrUnauthorized        = errors.New("calls: not authorized for this call")
	ErrInvalidState        = errors.New("calls: call cannot make this transition in its current state")

	// ErrStorageUnavailable wraps unexpected failures from the durable
	// store. Registry state is advisory while this is being observed;
	// callers should re-validate against the store before acting.
	ErrStorageUnavailable = errors.New("calls: durable call store unavailable")
)

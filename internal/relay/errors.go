package relay

import "errors"

var (
	// ErrTransport marks a session that ended because the socket failed or the
	// client went away.
	ErrTransport = errors.New("relay: transport failure")

	// ErrModel marks a session that ended because a model call failed.
	ErrModel = errors.New("relay: model failure")
)

// IsModelFailure reports whether err ended a session because of the model.
// It is the failure classifier for the model circuit breaker.
func IsModelFailure(err error) bool {
	return errors.Is(err, ErrModel)
}

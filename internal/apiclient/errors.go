package apiclient

import "errors"

// Failure taxonomy for calls against the remote survey API. Everything the
// transport can throw is folded into one of these before it leaves this
// package.
var (
	// ErrTransport covers unreachable network, timeouts and 5xx responses.
	// Always recoverable: callers fall back to the offline path or leave the
	// queue entry for a later pass.
	ErrTransport = errors.New("transport failure")

	// ErrAuthRejected is a definitive credential denial (401 on login).
	// Terminal for a queued login entry.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrAuthExpired is a 401 on an authorized call: the bearer token is no
	// longer usable, but the operation itself may succeed later.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrValidation is a 4xx rejection of the request body itself.
	ErrValidation = errors.New("validation failure")
)

func IsAuthRejected(err error) bool { return errors.Is(err, ErrAuthRejected) }

func IsAuthExpired(err error) bool { return errors.Is(err, ErrAuthExpired) }

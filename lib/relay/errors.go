package relay

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Unauthorized
	InvalidRequest
	ConfigurationError
	TransportError
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case InvalidRequest:
		return "invalid_request"
	case ConfigurationError:
		return "configuration_error"
	case TransportError:
		return "transport_error"
	default:
		return "internal"
	}
}

// HTTPStatus is the response code a failure of this kind is reported with.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every Pipeline operation. Message is safe to show to
// the caller; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError returns the pipeline error wrapped in err. Anything else is
// reported as Internal with the generic message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(Internal, MsgInternal, err)
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

package smtp

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned by Config.Validate when the relay
	// host, username or password is blank.
	ErrMissingCredentials = errors.New("smtp host, username and password must be configured")

	// ErrSTARTTLSUnsupported is returned when a cleartext connection cannot be
	// upgraded because the server does not advertise STARTTLS.
	ErrSTARTTLSUnsupported = errors.New("smtp server does not support STARTTLS")

	// ErrNoAuthMechanism is returned when the server offers no mechanism the
	// transport can use.
	ErrNoAuthMechanism = errors.New("smtp server offers no supported AUTH mechanism")

	ErrNoRecipient = errors.New("message has no recipient")
)

// Error is a failed step of an SMTP conversation. Op names the step
// (connect, greeting, starttls, auth, mail, rcpt, data).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

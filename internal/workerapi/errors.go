package workerapi

import (
	"errors"
	"fmt"
)

// TransportError means the node could not be talked to: connection failure,
// timeout, a non-2xx HTTP response or an unreadable body.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError means the daemon answered with a non-ok envelope.
type ApplicationError struct {
	Op      string
	URL     string
	Status  string
	Message string
	Payload []byte
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s %s: status %q: %s", e.Op, e.URL, e.Status, e.Message)
}

// IsTransport reports whether err was caused by a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsApplication reports whether err was caused by an ApplicationError.
func IsApplication(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// PayloadOf returns the raw response body of an ApplicationError, if any.
func PayloadOf(err error) string {
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return string(ae.Payload)
	}
	return ""
}

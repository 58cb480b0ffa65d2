package upstream

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream failure
type Kind string

const (
	KindNetwork    Kind = "network"     // transport failure, or circuit open
	KindHTTPStatus Kind = "http_status" // non-2xx response
	KindBodyParse  Kind = "body_parse"  // malformed response body
)

// ErrNotFound marks an upstream 404 that callers treat as a verdict, not a failure.
var ErrNotFound = errors.New("not found upstream")

// Error represents a classified failure from an external service
type Error struct {
	Service    string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s failure: %v", e.Service, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s failure", e.Service, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkError wraps a transport-level failure
func NetworkError(service string, err error) *Error {
	return &Error{Service: service, Kind: KindNetwork, Err: err}
}

// StatusError reports a non-2xx response
func StatusError(service string, statusCode int) *Error {
	return &Error{Service: service, Kind: KindHTTPStatus, StatusCode: statusCode}
}

// ParseError wraps a body decoding failure
func ParseError(service string, err error) *Error {
	return &Error{Service: service, Kind: KindBodyParse, Err: err}
}

// KindOf returns the failure kind of err, or "" if err is not an upstream error.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every gateway failure into one of a few shapes callers act on
type ErrorKind string

const (
	// KindConfiguration: credentials absent or unusable, never retried
	KindConfiguration ErrorKind = "configuration"
	// KindInvalidRequest: the caller built a request the exchange would never accept
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindTransient: timeout, network drop, 5xx or rate limiting
	KindTransient ErrorKind = "transient"
	// KindRejected: the exchange refused the request with a business reason
	KindRejected ErrorKind = "rejected"
	// KindMalformed: the response did not match the expected schema
	KindMalformed ErrorKind = "malformed"
)

// GatewayError is the single error shape returned by the Gateway
type GatewayError struct {
	Op      string
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exchange %s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("exchange %s: %s: %s", e.Op, e.Kind, e.Message)
}

// ErrorKind exposes Kind as a plain string for packages that map errors
// without importing the gateway
func (e *GatewayError) ErrorKind() string {
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a gateway error, or "" for any other error
func KindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func IsRejected(err error) bool {
	return KindOf(err) == KindRejected
}

func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsAmbiguous reports whether the order may or may not have reached the book.
// A timeout or malformed reply after submission leaves the outcome unknown.
func IsAmbiguous(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindMalformed
}

package gateway

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindTransport      Kind = "transport"
	KindRejected       Kind = "rejected"
	KindUnavailable    Kind = "unavailable"
	KindDecode         Kind = "decode"
	KindInvalidRequest Kind = "invalid_request"
)

var errAmountNotPositive = errors.New("amount must be positive")

// Error is the only error type returned by Gateway implementations.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func NewError(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, StatusCode: status, Err: err}
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a gateway error, or "" for anything else.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// Temporary reports whether retrying the same request later could succeed.
func Temporary(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransport, KindUnavailable:
		return true
	}
	return false
}

package rest

import (
	"errors"
	"fmt"
)

// Kind categorizes a failed request.
type Kind string

const (
	KindTransport    Kind = "transport"
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindMalformed    Kind = "malformed_body"
	KindServer       Kind = "server"
)

// Error is a categorized request failure.
type Error struct {
	Kind   Kind
	Status int // HTTP status, 0 for transport failures
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a rest.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

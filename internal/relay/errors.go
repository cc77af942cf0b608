package relay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed platform call.
type ErrorKind int

const (
	// KindOther covers transient and unclassified failures.
	KindOther ErrorKind = iota
	// KindNotFound means the source message is gone or the id is invalid.
	KindNotFound
	// KindForbidden means the bot lacks access to the source channel.
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "other"
	}
}

// Error is returned by Platform implementations.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from err. Errors not produced by a Platform are
// KindOther.
func KindOf(err error) ErrorKind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return KindOther
}

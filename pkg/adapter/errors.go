package adapter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures for the command envelope.
type ErrorKind string

const (
	KindSend       ErrorKind = "send_error"
	KindBlock      ErrorKind = "block_error"
	KindGroupFetch ErrorKind = "group_fetch_error"
	KindNotAGroup  ErrorKind = "not_a_group"
	KindFetch      ErrorKind = "fetch_error"
	KindLogout     ErrorKind = "logout_error"
	KindConnect    ErrorKind = "connect_error"
)

// Error is a tagged adapter failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test against the
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrSend       = &Error{Kind: KindSend}
	ErrBlock      = &Error{Kind: KindBlock}
	ErrGroupFetch = &Error{Kind: KindGroupFetch}
	ErrNotAGroup  = &Error{Kind: KindNotAGroup}
	ErrFetch      = &Error{Kind: KindFetch}
	ErrLogout     = &Error{Kind: KindLogout}
	ErrConnect    = &Error{Kind: KindConnect}

	ErrInvalidMediaKind   = errors.New("invalid media kind")
	ErrUnknownVariant     = errors.New("unknown backend variant")
	ErrRecreateRequired   = errors.New("backend must be recreated to reconnect")
	ErrVariantUnavailable = errors.New("no client factory configured for variant")
)

func wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of an adapter error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

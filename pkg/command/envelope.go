package command

import (
	"context"
	"errors"

	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/session"
)

// Code identifies a failure class in the envelope.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeAlreadyExists   Code = "already_exists"
	CodeInvalidRequest  Code = "invalid_request"
	CodeNotAGroup       Code = "not_a_group"
	CodeSendError       Code = "send_error"
	CodeBlockError      Code = "block_error"
	CodeGroupFetchError Code = "group_fetch_error"
	CodeFetchError      Code = "fetch_error"
	CodeLogoutError     Code = "logout_error"
	CodeConnectError    Code = "connect_error"
	CodeLoggedOut       Code = "logged_out"
	CodeTimeout         Code = "timeout"
	CodeInternal        Code = "internal"
)

// ErrInvalidRequest marks malformed commands.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorBody is the failure half of an envelope.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform command response.
type Envelope struct {
	Success bool       `json:"success"`
	Result  any        `json:"result,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// OK wraps a successful result.
func OK(result any) Envelope {
	return Envelope{Success: true, Result: result}
}

// Fail converts err into a failure envelope.
func Fail(err error) Envelope {
	return Envelope{Error: &ErrorBody{Code: CodeFor(err), Message: err.Error()}}
}

// CodeFor classifies err.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, session.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, session.ErrLoggedOut):
		return CodeLoggedOut
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, session.ErrInvalidID),
		errors.Is(err, adapter.ErrInvalidMediaKind),
		errors.Is(err, adapter.ErrUnknownVariant),
		errors.Is(err, adapter.ErrVariantUnavailable):
		return CodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}

	switch adapter.KindOf(err) {
	case adapter.KindNotAGroup:
		return CodeNotAGroup
	case adapter.KindSend:
		return CodeSendError
	case adapter.KindBlock:
		return CodeBlockError
	case adapter.KindGroupFetch:
		return CodeGroupFetchError
	case adapter.KindFetch:
		return CodeFetchError
	case adapter.KindLogout:
		return CodeLogoutError
	case adapter.KindConnect:
		return CodeConnectError
	}
	return CodeInternal
}

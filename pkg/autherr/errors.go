package autherr

import (
	"errors"
	"fmt"
)

// Code identifies the class of an authentication failure.
type Code string

const (
	CodeInvalidArgument          Code = "EINVALIDARGUMENT"
	CodeInvalidParameter         Code = "EINVALIDPARAMETER"
	CodeMissingRequiredParameter Code = "EMISSINGREQUIREDPARAMETER"
	CodeInvalidValue             Code = "EINVALIDVALUE"
	CodeAuthFailed               Code = "EAUTHFAILED"
	CodeInvalidGrant             Code = "EINVALIDGRANT"
	CodeSecureStoreUnavailable   Code = "ESECURESTOREUNAVAILABLE"
)

// Error is a coded failure. Status carries the HTTP status of the
// authorization server response when there was one.
type Error struct {
	Code    Code
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code. An invalid grant is also an
// authentication failure, so it matches ErrAuthFailed too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeAuthFailed && e.Code == CodeInvalidGrant
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidArgument          = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInvalidParameter         = &Error{Code: CodeInvalidParameter, Message: "invalid parameter"}
	ErrMissingRequiredParameter = &Error{Code: CodeMissingRequiredParameter, Message: "missing required parameter"}
	ErrInvalidValue             = &Error{Code: CodeInvalidValue, Message: "invalid value"}
	ErrAuthFailed               = &Error{Code: CodeAuthFailed, Message: "authentication failed"}
	ErrInvalidGrant             = &Error{Code: CodeInvalidGrant, Message: "invalid grant"}
	ErrSecureStoreUnavailable   = &Error{Code: CodeSecureStoreUnavailable, Message: "secure store unavailable"}
)

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func InvalidValue(format string, args ...any) *Error {
	return New(CodeInvalidValue, format, args...)
}

func MissingRequiredParameter(format string, args ...any) *Error {
	return New(CodeMissingRequiredParameter, format, args...)
}

func AuthFailed(format string, args ...any) *Error {
	return New(CodeAuthFailed, format, args...)
}

// InvalidGrant builds the error returned when the server rejects a grant
// (usually a revoked or expired refresh token).
func InvalidGrant(status int, description string) *Error {
	msg := "invalid grant"
	if description != "" {
		msg = "invalid grant: " + description
	}
	return &Error{Code: CodeInvalidGrant, Message: msg, Status: status}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

package dialog

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a dialog error.
type ErrorKind string

const (
	ErrorKindConnectFailed    ErrorKind = "connect_failed"
	ErrorKindHandshakeFailed  ErrorKind = "handshake_failed"
	ErrorKindWriteFailed      ErrorKind = "write_failed"
	ErrorKindReadFailed       ErrorKind = "read_failed"
	ErrorKindConnectionClosed ErrorKind = "connection_closed"
	ErrorKindInvalidState     ErrorKind = "invalid_state"
	ErrorKindEncodeFailed     ErrorKind = "encode_failed"
)

// Error is the error type reported to Handler.OnError and returned by Start.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    *int
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dialog: %s: %s", e.Kind, e.Message)
	if e.Code != nil {
		msg = fmt.Sprintf("dialog: %s (code=%d): %s", e.Kind, *e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func newErrorWithCode(kind ErrorKind, message string, code int, cause error) *Error {
	return &Error{Kind: kind, Message: message, Code: &code, Cause: cause}
}

// IsErrorKind reports whether err is a *Error of the given kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	var dialogErr *Error
	if errors.As(err, &dialogErr) {
		return dialogErr.Kind == kind
	}
	return false
}

var (
	ErrDialogActive = &Error{Kind: ErrorKindInvalidState, Message: "dialog is already active"}
	ErrDialogClosed = &Error{Kind: ErrorKindInvalidState, Message: "dialog is closed; create a new one to reconnect"}
)

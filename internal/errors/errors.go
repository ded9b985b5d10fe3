package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error category mapped to JSON-RPC
// error codes. Callers branch on the code to decide retryability.
type Code int

const (
	CodeConfig        Code = -32001
	CodeUpstream      Code = -32002
	CodePrice         Code = -32010
	CodeSwap          Code = -32020
	CodeWallet        Code = -32030
	CodeIO            Code = -32040
	CodeInvalidParams Code = -32602
	CodeNotFound      Code = -32601
	CodeInternal      Code = -32603
	CodeSerialization Code = -32700
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf extracts the category of err, defaulting to CodeInternal for
// untyped errors.
func CodeOf(err error) Code {
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

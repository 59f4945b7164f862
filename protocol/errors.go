// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package protocol

import (
	"fmt"

	"github.com/wangtaoking1/admin-bridge/errors"
)

// ErrorCode names a failure class. Codes travel to the control plane in the
// "error" field of response payloads.
type ErrorCode string

const (
	EncodingError   ErrorCode = "EncodingError"
	DecodingError   ErrorCode = "DecodingError"
	ConnectionError ErrorCode = "ConnectionError"
	UnknownCommand  ErrorCode = "UnknownCommand"
	HandlerFailure  ErrorCode = "HandlerFailure"
	Timeout         ErrorCode = "Timeout"
	ConnectionLost  ErrorCode = "ConnectionLost"
	Shutdown        ErrorCode = "Shutdown"
)

// Error is a failure carrying an ErrorCode.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// NewError returns an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns an Error with the given code that wraps cause.
func WrapError(cause error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + errors.Cause(e.cause).Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so that
// errors.Is(err, &Error{Code: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or
// HandlerFailure if there is none.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}

	return HandlerFailure
}

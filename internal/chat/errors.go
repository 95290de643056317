package chat

import (
	"context"
	"errors"
)

type ErrorCode string

const (
	ErrorCodeConnectivity ErrorCode = "connectivity"
	ErrorCodeRequest      ErrorCode = "request"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeValidation   ErrorCode = "validation"
	ErrorCodeStale        ErrorCode = "stale"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	ErrBlankContent = NewError(ErrorCodeValidation, "message content is blank", nil)
	ErrNoSession    = NewError(ErrorCodeValidation, "no active session", nil)
	ErrNotJoined    = NewError(ErrorCodeConnectivity, "channel is not joined", nil)
	ErrClosed       = NewError(ErrorCodeValidation, "controller is closed", nil)
)

// CodeOf returns the code of the first *Error in err's chain. Context
// cancellation counts as a request failure.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Code
	}
	return ErrorCodeRequest
}

func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// requestError keeps an already classified error and classifies everything
// else as a request failure.
func requestError(message string, err error) error {
	if err == nil {
		return nil
	}
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return NewError(chatErr.Code, message, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorCodeRequest, message+" (cancelled)", err)
	}
	return NewError(ErrorCodeRequest, message, err)
}

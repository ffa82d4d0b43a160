package usecase

import (
	"errors"
	"fmt"
)

// ErrorCode is the caller-facing class of a usecase failure.
type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Reasons carried by Error. They are stable and safe to show to API callers.
const (
	ReasonMissingConversation = "missing_conversation_id"
	ReasonUnknownKind         = "unknown_kind"
	ReasonInvalidSenderRole   = "invalid_sender_role"
	ReasonEmptyContent        = "empty_content"
	ReasonMessageLoad         = "message_load_error"
	ReasonMessageWrite        = "message_write_error"
	reasonUnclassified        = "internal_error"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// Classify returns the code and reason of err. Errors that did not come from
// this package are INTERNAL_ERROR and their text is not exposed.
func Classify(err error) (ErrorCode, string) {
	var ucErr *Error
	if errors.As(err, &ucErr) && ucErr != nil {
		return ucErr.Code, ucErr.Reason
	}
	return ErrorInternal, reasonUnclassified
}

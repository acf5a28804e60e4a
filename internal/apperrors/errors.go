package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLLMTimeout        = errors.New("llm request timed out")
	ErrLLMFailed         = errors.New("llm request failed")
	ErrGatewayFailed     = errors.New("gateway delivery failed")
)

// AppError carries a stable code and a message safe to show to API callers.
type AppError struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "error"
	}
}

func (e *AppError) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

func NotFound(op, what string) error {
	return &AppError{Code: CodeNotFound, Op: op, Message: what + " not found", Err: ErrNotFound}
}

func Invalid(op, msg string) error {
	return &AppError{Code: CodeInvalidArgument, Op: op, Message: msg}
}

func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// PublicMessage returns the text that may be sent to an API client.
func PublicMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Message != "" && ae.Code != CodeInternal {
		return ae.Message
	}
	if errors.Is(err, ErrInvalidTransition) {
		return err.Error()
	}
	if errors.Is(err, ErrNotFound) {
		return "not found"
	}
	return "internal server error"
}

func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeUnauthorized:
			return http.StatusUnauthorized
		case CodeForbidden:
			return http.StatusForbidden
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		case CodeUnavailable:
			return http.StatusServiceUnavailable
		case CodeTimeout:
			return http.StatusGatewayTimeout
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

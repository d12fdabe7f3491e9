package domain

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки домена.
var (
	// ErrInvalidInput — некорректные входные данные (репозиторий, номер PR, элемент batch).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition — недопустимый переход статуса задачи.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ErrorKind — категория ошибки задачи.
type ErrorKind string

const (
	ErrorKindInvalidInput ErrorKind = "INVALID_INPUT"
	ErrorKindFetch        ErrorKind = "FETCH_ERROR"
	ErrorKindAnalysis     ErrorKind = "ANALYSIS_ERROR"
	ErrorKindTimeout      ErrorKind = "TIMEOUT"
	ErrorKindNotFound     ErrorKind = "NOT_FOUND"
	ErrorKindCancelled    ErrorKind = "CANCELLED"
	ErrorKindInternal     ErrorKind = "INTERNAL"
)

// Коды FETCH_ERROR.
const (
	FetchCodeNotFound     = "not_found"
	FetchCodeUnauthorized = "unauthorized"
	FetchCodeRateLimited  = "rate_limited"
	FetchCodeUnavailable  = "unavailable"
	FetchCodeRejected     = "rejected"
)

// TaskError — структурированная причина неудачи задачи.
//
// Реализует error, поэтому внешние клиенты (GitHub, LLM) возвращают *TaskError,
// а retry-цикл и реестр классифицируют ошибку без разбора строк.
type TaskError struct {
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Error реализует интерфейс error.
func (e *TaskError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is позволяет сравнивать через errors.Is по Kind и Code.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// NewFetchError создаёт FETCH_ERROR. Retryable выводится из кода.
func NewFetchError(code, message string) *TaskError {
	return &TaskError{
		Kind:      ErrorKindFetch,
		Code:      code,
		Message:   message,
		Retryable: code == FetchCodeRateLimited || code == FetchCodeUnavailable,
	}
}

// NewAnalysisError создаёт ANALYSIS_ERROR.
func NewAnalysisError(message string, retryable bool) *TaskError {
	return &TaskError{Kind: ErrorKindAnalysis, Message: message, Retryable: retryable}
}

// NewTimeoutError создаёт TIMEOUT (всегда retryable).
func NewTimeoutError(message string) *TaskError {
	return &TaskError{Kind: ErrorKindTimeout, Message: message, Retryable: true}
}

// NewCancelledError создаёт CANCELLED.
func NewCancelledError(message string) *TaskError {
	return &TaskError{Kind: ErrorKindCancelled, Message: message}
}

// NewInternalError создаёт INTERNAL.
func NewInternalError(message string) *TaskError {
	return &TaskError{Kind: ErrorKindInternal, Message: message}
}

// AsTaskError приводит произвольную ошибку к *TaskError.
//
// context.DeadlineExceeded → TIMEOUT, context.Canceled → CANCELLED,
// всё неизвестное → INTERNAL.
func AsTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}

	var te *TaskError
	if errors.As(err, &te) {
		return te
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(err.Error())
	case errors.Is(err, context.Canceled):
		return NewCancelledError(err.Error())
	case errors.Is(err, ErrInvalidInput):
		return &TaskError{Kind: ErrorKindInvalidInput, Message: err.Error()}
	default:
		return NewInternalError(err.Error())
	}
}

// IsRetryable проверяет, можно ли повторить операцию после err.
func IsRetryable(err error) bool {
	te := AsTaskError(err)
	return te != nil && te.Retryable
}

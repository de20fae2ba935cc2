// Package apperr описывает ошибки движка, которые видит клиент.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidTransition      Kind = "invalid_transition"
	ConflictingTender      Kind = "conflicting_tender"
	DuplicateTender        Kind = "duplicate_tender"
	TenderClosed           Kind = "tender_closed"
	AlreadyAwarded         Kind = "already_awarded"
	AlreadyDecided         Kind = "already_decided"
	NotPendingVerification Kind = "not_pending_verification"
	NoResponsibleActor     Kind = "no_responsible_actor"
	NotFound               Kind = "not_found"
	Unauthorized           Kind = "unauthorized"
	InvalidInput           Kind = "invalid_input"
	// Unavailable - хранилище недоступно; единственный класс, который можно повторять.
	Unavailable Kind = "unavailable"
)

// Error - ошибка с видом и, при необходимости, фактическим состоянием объекта.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Current any    `json:"current,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is сравнивает ошибки по виду, чтобы работал errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New создает ошибку заданного вида.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap создает ошибку заданного вида с причиной.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithCurrent прикладывает к ошибке фактическое состояние.
func (e *Error) WithCurrent(v any) *Error {
	e.Current = v
	return e
}

// Сентинелы для errors.Is
var (
	ErrInvalidTransition      = &Error{Kind: InvalidTransition}
	ErrConflictingTender      = &Error{Kind: ConflictingTender}
	ErrDuplicateTender        = &Error{Kind: DuplicateTender}
	ErrTenderClosed           = &Error{Kind: TenderClosed}
	ErrAlreadyAwarded         = &Error{Kind: AlreadyAwarded}
	ErrAlreadyDecided         = &Error{Kind: AlreadyDecided}
	ErrNotPendingVerification = &Error{Kind: NotPendingVerification}
	ErrNoResponsibleActor     = &Error{Kind: NoResponsibleActor}
	ErrNotFound               = &Error{Kind: NotFound}
	ErrUnauthorized           = &Error{Kind: Unauthorized}
	ErrInvalidInput           = &Error{Kind: InvalidInput}
	ErrUnavailable            = &Error{Kind: Unavailable}
)

// KindOf возвращает вид ошибки; для чужих ошибок - пустую строку.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable - можно ли повторить запрос без изменения входных данных.
func Retryable(err error) bool {
	return KindOf(err) == Unavailable
}

// HTTPStatus сопоставляет вид ошибки и код ответа.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidTransition, ConflictingTender, DuplicateTender, TenderClosed,
		AlreadyAwarded, AlreadyDecided, NotPendingVerification:
		return http.StatusConflict
	case NoResponsibleActor:
		return http.StatusUnprocessableEntity
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

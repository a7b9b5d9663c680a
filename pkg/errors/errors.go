// Package errors defines the business-rule failures returned by the lifecycle
// and resolution services. Infrastructure faults are never expressed with
// these types; they are wrapped with github.com/pkg/errors and surface as 500s.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindTooManyRequests   Kind = "too_many_requests"
)

var statusCodes = map[Kind]int{
	KindNotFound:          http.StatusNotFound,
	KindForbidden:         http.StatusForbidden,
	KindConflict:          http.StatusConflict,
	KindInvalidTransition: http.StatusUnprocessableEntity,
	KindValidation:        http.StatusBadRequest,
	KindTooManyRequests:   http.StatusTooManyRequests,
}

// Sentinels for errors.Is comparisons. Matching is by Kind only.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrTooManyRequests   = &Error{Kind: KindTooManyRequests}
)

type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func TooManyRequests(format string, args ...any) *Error {
	return newError(KindTooManyRequests, format, args...)
}

// InvalidTransition names the entity and both ends of the rejected edge.
func InvalidTransition(entity string, from, to fmt.Stringer) *Error {
	return newError(KindInvalidTransition, "cannot transition %s from %s to %s", entity, from, to).
		WithMeta("entity", entity).
		WithMeta("from", from.String()).
		WithMeta("to", to.String())
}

// InvalidState rejects an action that the entity's current status does not allow.
func InvalidState(entity string, status fmt.Stringer, action string) *Error {
	return newError(KindInvalidTransition, "cannot %s %s in status %s", action, entity, status).
		WithMeta("entity", entity).
		WithMeta("status", status.String())
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func (e *Error) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.StatusCode(), e.Error()).AddMetaValue("kind", string(e.Kind))
	for key, value := range e.Meta {
		herr = herr.AddMetaValue(key, fmt.Sprint(value))
	}
	return herr
}

// As returns the typed failure wrapped in err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the failure kind of err, or "" for infrastructure faults.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsForbidden(err error) bool {
	return KindOf(err) == KindForbidden
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func IsInvalidTransition(err error) bool {
	return KindOf(err) == KindInvalidTransition
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

func IsTooManyRequests(err error) bool {
	return KindOf(err) == KindTooManyRequests
}

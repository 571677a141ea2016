// Package apperr defines the error type shared by every layer of the account service.
//
// An *Error carries a Kind (which decides the HTTP status), a stable machine Code,
// a user-facing Message and optional Details. The wrapped Err is kept for logs only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how the boundary must treat them.
type Kind uint8

const (
	KindInfrastructure Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindValidation
	KindDuplicate
	KindBusinessRule
	KindRateLimited
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindInfrastructure: "infrastructure",
	KindAuthentication: "authentication",
	KindAuthorization:  "authorization",
	KindNotFound:       "not_found",
	KindValidation:     "validation",
	KindDuplicate:      "duplicate",
	KindBusinessRule:   "business_rule",
	KindRateLimited:    "rate_limited",
	KindUnavailable:    "unavailable",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var statusByKind = map[Kind]int{
	KindInfrastructure: http.StatusInternalServerError,
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindValidation:     http.StatusUnprocessableEntity,
	KindDuplicate:      http.StatusConflict,
	KindBusinessRule:   http.StatusBadRequest,
	KindRateLimited:    http.StatusTooManyRequests,
	KindUnavailable:    http.StatusServiceUnavailable,
}

// Status maps a kind to its HTTP status code.
func Status(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the tagged error value.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	// Err is the underlying cause. It is logged, never rendered.
	Err error
}

// New builds an error without details.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so package level values work as sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int { return Status(e.Kind) }

// WithDetail returns a copy with key=value added to Details.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithMessage returns a copy with a different user-facing message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// WithCause returns a copy wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// Body is the JSON payload rendered at the HTTP boundary.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	Message    string         `json:"message"`
	Code       string         `json:"code"`
	StatusCode int            `json:"status_code"`
	Details    map[string]any `json:"details"`
}

// ToBody renders the sanitized payload.
func (e *Error) ToBody() Body {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return Body{Error: BodyError{
		Message:    e.Message,
		Code:       e.Code,
		StatusCode: e.Status(),
		Details:    details,
	}}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsDomain reports whether err already carries an *Error.
func IsDomain(err error) bool {
	_, ok := As(err)
	return ok
}

// From returns the *Error inside err, or an Internal error wrapping it.
func From(err error) *Error {
	if ae, ok := As(err); ok {
		return ae
	}
	return Internal.WithCause(err)
}

// Wrap leaves domain errors untouched and turns anything else into a database
// error tagged with the failing operation.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return Database.WithDetail("operation", op).WithCause(err)
}

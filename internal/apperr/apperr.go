// Package apperr holds the error kinds shared by services and the HTTP layer.
// Services wrap these sentinels with %w; handlers map them to status codes.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("you don't have permission to perform this action")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("service unavailable")
)

// Invalid wraps ErrInvalidInput with a client safe message.
func Invalid(format string, args ...any) error {
	return &kindError{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// Unauthorized wraps ErrUnauthorized with a client safe message.
func Unauthorized(msg string) error {
	return &kindError{kind: ErrUnauthorized, msg: msg}
}

// NotFound wraps ErrNotFound with a client safe message.
func NotFound(msg string) error {
	return &kindError{kind: ErrNotFound, msg: msg}
}

// Conflict wraps ErrConflict with a client safe message.
func Conflict(msg string) error {
	return &kindError{kind: ErrConflict, msg: msg}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// PublicMessage returns the message that is safe to show to clients, or fallback
// when err carries none.
func PublicMessage(err error, fallback string) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "validation failed"
	}
	return fallback
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a payload fails schema validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

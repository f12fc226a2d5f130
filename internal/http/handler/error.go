package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"projectapi/internal/apperr"
	"projectapi/internal/http/middleware"
	"projectapi/internal/logger"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []apperr.FieldError `json:"details,omitempty"`
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return writeErrorDetails(c, status, code, message, nil)
}

func writeErrorDetails(c *fiber.Ctx, status int, code, message string, details []apperr.FieldError) error {
	res := errorPayload{
		RequestID: middleware.RequestIDFrom(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	return c.Status(status).JSON(res)
}

// respondError maps service errors onto the HTTP envelope. Anything that is not
// a known kind is logged and reported as a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		return writeErrorDetails(c, fiber.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", ve.Fields)
	case errors.Is(err, apperr.ErrInvalidInput):
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", apperr.PublicMessage(err, "bad request"))
	case errors.Is(err, apperr.ErrUnauthorized):
		return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", apperr.PublicMessage(err, "authentication required"))
	case errors.Is(err, apperr.ErrForbidden):
		return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "You don't have permission to perform this action")
	case errors.Is(err, apperr.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", apperr.PublicMessage(err, "resource not found"))
	case errors.Is(err, apperr.ErrConflict):
		return writeError(c, fiber.StatusConflict, "CONFLICT", apperr.PublicMessage(err, "conflict"))
	case errors.Is(err, apperr.ErrUnavailable):
		return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
	}

	fields := []zap.Field{
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	}
	if sc := trace.SpanContextFromContext(c.UserContext()); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	logger.L().Error("unhandled error", fields...)
	return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if !errors.As(err, &fe) {
			return respondError(c, err)
		}

		switch fe.Code {
		case fiber.StatusBadRequest:
			return writeError(c, fe.Code, "BAD_REQUEST", messageOr(fe, "bad request"))
		case fiber.StatusUnauthorized:
			return writeError(c, fe.Code, "UNAUTHORIZED", messageOr(fe, "authentication required"))
		case fiber.StatusForbidden:
			return writeError(c, fe.Code, "FORBIDDEN", "You don't have permission to perform this action")
		case fiber.StatusNotFound:
			return writeError(c, fe.Code, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, fe.Code, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, fe.Code, "PAYLOAD_TOO_LARGE", "request body too large")
		case fiber.StatusUnprocessableEntity:
			return writeError(c, fe.Code, "VALIDATION_ERROR", messageOr(fe, "validation failed"))
		case fiber.StatusServiceUnavailable:
			return writeError(c, fe.Code, "SERVICE_UNAVAILABLE", "dependency unavailable")
		default:
			if fe.Code >= fiber.StatusInternalServerError {
				return writeError(c, fe.Code, "INTERNAL_ERROR", "internal server error")
			}
			return writeError(c, fe.Code, "ERROR", fe.Message)
		}
	}
}

// messageOr prefers the message set by our own middleware over fiber's
// generic status text.
func messageOr(fe *fiber.Error, fallback string) string {
	if fe.Message == "" || fe.Message == fiber.ErrBadRequest.Message ||
		fe.Message == fiber.ErrUnauthorized.Message || fe.Message == fiber.ErrUnprocessableEntity.Message {
		return fallback
	}
	return fe.Message
}

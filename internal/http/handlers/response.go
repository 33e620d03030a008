// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// the error envelope, the mapping of service errors onto it, and success and
// download writers.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "resource not found"
//	}
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/engine"
	"github.com/tbourn/perfmon-backend/internal/http/middleware"
	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/services"
	"github.com/tbourn/perfmon-backend/internal/temporal"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto the envelope. Errors it does not know
// become a 500 with fallbackCode.
func failErr(c *gin.Context, err error, fallbackCode string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, temporal.ErrOverlapConflict):
		fail(c, http.StatusBadRequest, ErrCodeOverlap, temporal.OverlapMessage)
	case errors.Is(err, services.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	case errors.Is(err, services.ErrInUse):
		fail(c, http.StatusConflict, ErrCodeInUse, err.Error())
	case errors.Is(err, services.ErrDuplicate), errors.Is(err, repo.ErrDuplicate):
		fail(c, http.StatusConflict, ErrCodeDuplicate, err.Error())
	case errors.Is(err, services.ErrInvalidReference):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidReference, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrMissingStart),
		errors.Is(err, services.ErrEmptyName),
		errors.Is(err, services.ErrEmptyResponse),
		errors.Is(err, services.ErrResponseTooLong),
		errors.Is(err, services.ErrTooManyActions),
		errors.Is(err, services.ErrInvalidAction),
		errors.Is(err, services.ErrInvalidSettings),
		errors.Is(err, services.ErrInvalidWeek),
		errors.Is(err, temporal.ErrInvalidInterval),
		errors.Is(err, jalali.ErrInvalidDate):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, importer.ErrUnknownDomain):
		fail(c, http.StatusNotFound, ErrCodeUnknownDomain, err.Error())
	case errors.Is(err, importer.ErrUnknownMode):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, importer.ErrUnsupportedFormat):
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedFormat, err.Error())
	case errors.Is(err, importer.ErrMalformedFile):
		fail(c, http.StatusBadRequest, ErrCodeMalformedFile, err.Error())
	case errors.Is(err, importer.ErrConcurrencyConflict):
		fail(c, http.StatusConflict, ErrCodeConcurrencyConflict, err.Error())
	case errors.Is(err, engine.ErrNoSnapshot):
		fail(c, http.StatusConflict, ErrCodeNoSnapshot, err.Error())
	case errors.Is(err, engine.ErrNoCalendar):
		fail(c, http.StatusConflict, ErrCodeNoCalendar, err.Error())
	case errors.As(err, &maxBytes):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit))
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// attachment writes a file download.
func attachment(c *gin.Context, filename, contentType string, body []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, body)
}

// Package services defines the business logic of the monitoring backend:
// organizational structure, imports, engine runs, triggers and responses.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrNotFound indicates that the addressed record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInUse is returned when a delete is refused because other records
	// still reference the target.
	ErrInUse = errors.New("record is still referenced")

	// ErrInvalidReference is returned when a write points at a management,
	// unit, head or service that does not exist.
	ErrInvalidReference = errors.New("referenced record does not exist")

	// ErrDuplicate is returned when a unique name or key is already taken.
	ErrDuplicate = errors.New("record already exists")

	// ErrMissingStart is returned when an assignment has no valid_from.
	ErrMissingStart = errors.New("valid_from is required")

	// ErrEmptyName is returned when a required name is blank.
	ErrEmptyName = errors.New("name is required")

	// ErrInvalidTransition is returned when a trigger status change is not
	// allowed from the trigger's current status.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrEmptyResponse is returned when a response has no text.
	ErrEmptyResponse = errors.New("free_text is required")

	// ErrResponseTooLong is returned when free_text exceeds the limit.
	ErrResponseTooLong = errors.New("free_text too long")

	// ErrTooManyActions is returned when a response carries more actions
	// than allowed.
	ErrTooManyActions = errors.New("too many actions")

	// ErrInvalidAction is returned when an action has no text or a due_date
	// that is not a jalali date.
	ErrInvalidAction = errors.New("action needs text and a jalali due_date")

	// ErrInvalidSettings is returned when a settings write is out of range.
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrInvalidWeek is returned when a weekly report is requested for a
	// malformed week.
	ErrInvalidWeek = errors.New("week must be a jalali date (YYYY-MM-DD)")
)

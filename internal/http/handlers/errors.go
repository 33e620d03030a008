// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics, domain codes name the business rule that
// refused the request.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "overlap_conflict",
//	  "message": "بازه زمانی با رکورد موجود هم‌پوشانی دارد."
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"

	// Domain-specific:
	ErrCodeValidation          = "validation_failed"
	ErrCodeOverlap             = "overlap_conflict"
	ErrCodeInUse               = "in_use"
	ErrCodeDuplicate           = "duplicate"
	ErrCodeInvalidReference    = "invalid_reference"
	ErrCodeInvalidTransition   = "invalid_transition"
	ErrCodeUnknownDomain       = "unknown_domain"
	ErrCodeUnsupportedFormat   = "unsupported_format"
	ErrCodeMalformedFile       = "malformed_file"
	ErrCodeCommitAborted       = "commit_aborted"
	ErrCodeConcurrencyConflict = "concurrency_conflict"
	ErrCodeNoSnapshot          = "no_published_snapshot"
	ErrCodeNoCalendar          = "no_calendar"
	ErrCodeImportFailed        = "import_failed"
	ErrCodeComputeFailed       = "compute_failed"
	ErrCodeListFailed          = "list_failed"
	ErrCodeReportFailed        = "report_failed"
)

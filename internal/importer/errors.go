package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDomain is returned for a domain outside the five supported ones.
	ErrUnknownDomain = errors.New("unknown import domain")
	// ErrUnknownMode is returned for a mode other than dry-run or commit.
	ErrUnknownMode = errors.New("mode must be dry-run or commit")
	// ErrUnsupportedFormat is returned for uploads that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrMalformedFile wraps reader failures on the uploaded file.
	ErrMalformedFile = errors.New("malformed file")
	// ErrConcurrencyConflict means another commit changed the same namespace
	// first. The caller may retry.
	ErrConcurrencyConflict = errors.New("concurrent commit conflict, retry")
)

// CommitAbortedError is returned by Commit when validation against the
// current store still finds issues. Nothing was written.
type CommitAbortedError struct {
	Issues []Issue
}

func (e *CommitAbortedError) Error() string {
	return fmt.Sprintf("commit aborted: %d row(s) with errors", len(e.Issues))
}

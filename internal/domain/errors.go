package domain

import (
	"errors"
	"fmt"
)

// SourceError reports a structural problem with an archive or source file:
// an unrecognized archive extension, an unreadable container, or a header
// missing a required column. It aborts the run for its window.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NetworkError reports a failed download.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MergeError reports a failed staging-to-target merge, including a missing
// target table or a staging column the target does not have.
type MergeError struct {
	Staging string
	Target  string
	Err     error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s into %s: %v", e.Staging, e.Target, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// RowError describes a single source row that could not be transformed.
// Row errors are local: the row is skipped and the chunk continues.
type RowError struct {
	Line   int
	Reason string
	Raw    []string
	Err    error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

func (e *RowError) Unwrap() error { return e.Err }

// ErrorCategory classifies err for run results and metrics labels.
func ErrorCategory(err error) string {
	var (
		srcErr   *SourceError
		netErr   *NetworkError
		mergeErr *MergeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &srcErr):
		return "source"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &mergeErr):
		return "merge"
	default:
		return "internal"
	}
}

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports that a download stopped because its session was cancelled.
	ErrCancelled = errors.New("download cancelled")

	// ErrNoSegmentsFound reports an empty or malformed media playlist.
	ErrNoSegmentsFound = errors.New("no segments found")
)

// TransientFetchError is a single failed fetch attempt. It is retried by the
// fetcher and only surfaces wrapped in a RetriesExhaustedError.
type TransientFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// RetriesExhaustedError is returned when every attempt for a segment failed.
type RetriesExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("segment failed after %d attempts: %s: %v", e.Attempts, e.URL, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

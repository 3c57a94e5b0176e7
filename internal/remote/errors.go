package remote

import (
	"fmt"
	"time"
)

// TransientIOError is a network failure or a 5xx/429 response that persisted
// through every retry.
type TransientIOError struct {
	Op       string
	URL      string
	Attempts int
	Status   int
	Err      error
}

func (e *TransientIOError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d after %d attempts", e.Op, e.URL, e.Status, e.Attempts)
	}
	return fmt.Sprintf("%s %s: %v after %d attempts", e.Op, e.URL, e.Err, e.Attempts)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// StatusError is a non-retryable, non-404 error response.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d: %s", e.URL, e.Status, e.Body)
}

// SchemaDriftWarning reports a record that lacks a required field under every
// known name. The record is skipped.
type SchemaDriftWarning struct {
	Record string
	Field  string
}

func (e *SchemaDriftWarning) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("schema drift: record without %s", e.Field)
	}
	return fmt.Sprintf("schema drift: record %s without %s", e.Record, e.Field)
}

// ListError is returned when every list endpoint shape failed.
type ListError struct {
	Attempts map[string]error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("all %d list endpoint shapes failed: %v", len(e.Attempts), e.Attempts)
}

func truncateBody(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

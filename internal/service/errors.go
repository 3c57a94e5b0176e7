package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrSyncRunning is returned when a sync run is requested while another run
// in this process has not finished.
var ErrSyncRunning = errors.New("sync already running")

// DependencyUnavailableError reports that the embedding or chat service could
// not be reached or refused the request.
type DependencyUnavailableError struct {
	Service string
	Err     error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *DependencyUnavailableError) Unwrap() error { return e.Err }

// TimeoutError reports that an operation exceeded its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// ListFetchError is the fatal sync error raised when no list endpoint answered.
type ListFetchError struct {
	Err error
}

func (e *ListFetchError) Error() string {
	return fmt.Sprintf("fetch conversation list: %v", e.Err)
}

func (e *ListFetchError) Unwrap() error { return e.Err }

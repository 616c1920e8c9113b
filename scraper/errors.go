package scraper

import (
	"errors"
	"fmt"
)

// Failure kinds a page request can end in. Match them with errors.Is.
var (
	ErrTimeout     = errors.New("timeout")
	ErrConnection  = errors.New("connection")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not_found")
	ErrRateLimited = errors.New("rate_limited")
	ErrServer      = errors.New("server")
)

// kinds is ordered by classification priority.
var kinds = []error{ErrTimeout, ErrConnection, ErrForbidden, ErrNotFound, ErrRateLimited, ErrServer}

// RequestError ties a transport or status failure to its kind.
type RequestError struct {
	Kind   error
	Status int
	Err    error
}

func newRequestError(kind error, status int, err error) *RequestError {
	return &RequestError{Kind: kind, Status: status, Err: err}
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// FetchError reports a page that could not be fetched after every attempt.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// retryable reports whether another attempt could plausibly succeed.
func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServer)
}

// errorTypeLabel maps err to the error_type metric label.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "other"
}

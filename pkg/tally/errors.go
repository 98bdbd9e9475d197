package tally

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed fetch against the governance API.
type ErrorKind string

const (
	// KindTimeout is a transport-level timeout after exhausting retries.
	KindTimeout ErrorKind = "timeout"
	// KindConnection is a transport-level connection failure after
	// exhausting retries.
	KindConnection ErrorKind = "connection"
	// KindRateLimited means the service kept returning 429 through every
	// retry attempt.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServer means the service kept returning 5xx through every retry
	// attempt.
	KindServer ErrorKind = "server"
	// KindApplication is a GraphQL-level error carried in a 200 response.
	KindApplication ErrorKind = "application"
	// KindPermanent is any other non-200 status; never retried.
	KindPermanent ErrorKind = "permanent"
)

// FetchError is the terminal failure surfaced by Client.Send. Exhausted
// retries always yield a FetchError, never a panic.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tally: %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tally: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err if it carries a FetchError, or ""
// otherwise.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

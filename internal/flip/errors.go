package flip

import (
	"errors"
	"fmt"
)

// InvalidURLError is returned before any I/O when a resource URL cannot be fetched:
// empty, unparsable, not http(s) or missing a host.
type InvalidURLError struct {
	URL    string // The rejected URL as given by the caller
	Reason string // Human-readable explanation of why the URL was rejected
	Err    error  // Underlying error, if any
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid resource url %q: %s", e.URL, e.Reason)
}

func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// NetworkError represents transport failures and non-success HTTP responses,
// including timeouts and DNS errors.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch")
	URL        string // The resource being fetched
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Status text or transport error message
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s (HTTP %d): %s", e.Operation, e.URL, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s of %s: %s", e.Operation, e.URL, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline or client timeout.
func (e *NetworkError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}

	return false
}

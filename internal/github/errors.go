package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrConfig marks a missing or inaccessible repository configuration.
// It is fatal and never retried.
var ErrConfig = errors.New("github: owner and repo are required")

// ErrNotFound marks a missing file, ref, issue or pull request.
var ErrNotFound = errors.New("github: not found")

// APIError is a non-2xx response from the GitHub API. Status and the remote
// message are preserved so callers can classify without losing the cause.
type APIError struct {
	Status  int
	Message string
	URL     string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	return fmt.Sprintf("github: %s: status %d: %s", e.URL, e.Status, msg)
}

// IsNotFound reports whether err is a missing-resource condition.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// IsConflict reports whether err is an optimistic-concurrency loss: a
// non-fast-forward ref update or a ref that already exists. These are the only
// errors the commit protocol retries.
func IsConflict(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Status == http.StatusConflict || ae.Status == http.StatusUnprocessableEntity {
		return true
	}
	return strings.Contains(strings.ToLower(ae.Message), "fast forward")
}

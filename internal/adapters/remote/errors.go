package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Error is a non-success answer from the remote API.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	// Rejected is set when a 2xx response carried success=false.
	Rejected bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("remote %s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Terminal reports whether retrying the same request cannot succeed.
// 4xx answers are terminal except 408 and 429.
func (e *Error) Terminal() bool {
	if e.Rejected {
		return true
	}
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsTerminal classifies err. Network errors, timeouts and 5xx answers are
// transient; anything not produced by the remote API is transient too.
func IsTerminal(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Terminal()
	}
	return false
}

// IsTimeout reports whether err is a per-call deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// IsUnreachable reports whether the request never got an answer: DNS, dial,
// TLS or per-call timeout failures.
func IsUnreachable(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue) || IsTimeout(err)
}

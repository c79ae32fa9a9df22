package captcha

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError means the API rejected our key. Retrying cannot help.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("solver auth error (%s): %s", e.Code, e.Message)
}

// RequestError is a non-auth error reported by the solver API envelope.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("solver request error (%s): %s", e.Code, e.Message)
}

// TimeoutError covers both transport timeouts and solver-side timeouts.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solver timeout: %s", e.Message)
}

// Error fragments that indicate a transient condition worth retrying.
var retryableFragments = []string{
	"browser closed",
	"browser disconnected",
	"target closed",
	"page closed",
	"navigation failed",
	"net::err",
	"timeout",
	"econnreset",
	"econnrefused",
	"socket hang up",
	"network error",
	"protocol error",
	"session not found",
	"context destroyed",
}

// IsRetryable reports whether err looks transient. Auth errors are never
// retryable regardless of their message text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

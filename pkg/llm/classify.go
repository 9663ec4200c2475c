package llm

import (
	"context"
	"errors"
	"strings"
)

// Error classes for provider failures. These feed the request-level error
// taxonomy and drive retry decisions.
const (
	ErrorRateLimited    = "RATE_LIMITED"
	ErrorTimeout        = "TIMEOUT"
	ErrorContextTooLong = "CONTEXT_TOO_LONG"
	ErrorServerError    = "SERVER_ERROR"
	ErrorUnknown        = "UNKNOWN"
)

// classifyMarkers maps case-insensitive substrings of provider error
// messages to classes, in match priority order.
var classifyMarkers = []struct {
	substr string
	class  string
}{
	{"rate limit", ErrorRateLimited},
	{"rate_limit", ErrorRateLimited},
	{"too many requests", ErrorRateLimited},
	{"429", ErrorRateLimited},
	{"overloaded", ErrorRateLimited},
	{"quota exceeded", ErrorRateLimited},
	{"timed out", ErrorTimeout},
	{"timeout", ErrorTimeout},
	{"deadline exceeded", ErrorTimeout},
	{"context length", ErrorContextTooLong},
	{"context window", ErrorContextTooLong},
	{"maximum context", ErrorContextTooLong},
	{"too many tokens", ErrorContextTooLong},
	{"prompt is too long", ErrorContextTooLong},
	{"internal server error", ErrorServerError},
	{"service unavailable", ErrorServerError},
	{"bad gateway", ErrorServerError},
	{"500", ErrorServerError},
	{"502", ErrorServerError},
	{"503", ErrorServerError},
}

// ClassifyError maps a provider error onto an error class. Deadline errors
// from the context package classify as TIMEOUT regardless of message text.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	lower := strings.ToLower(err.Error())
	for _, m := range classifyMarkers {
		if strings.Contains(lower, m.substr) {
			return m.class
		}
	}
	return ErrorUnknown
}

// Retryable reports whether an error class is worth retrying in-process.
// Rate limits, timeouts, and 5xx-style server errors are transient.
// Context-length failures repeat deterministically; unknown failures are
// surfaced rather than hammered.
func Retryable(class string) bool {
	switch class {
	case ErrorRateLimited, ErrorTimeout, ErrorServerError:
		return true
	}
	return false
}

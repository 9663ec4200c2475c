// Package emitter turns hook and guard observations into metric events on
// the ring buffer. Emitters are fire-and-forget: a full buffer drops the
// event and never blocks or fails the request path.
package emitter

import "strings"

// Tool error classes persisted on tool call events.
const (
	ErrorClassTimeout          = "timeout"
	ErrorClassConnection       = "connection_error"
	ErrorClassPermissionDenied = "permission_denied"
	ErrorClassNotFound         = "not_found"
	ErrorClassUnknown          = "unknown"
)

// errorClassMarkers maps case-insensitive substrings to error classes, in
// match priority order.
var errorClassMarkers = []struct {
	substr string
	class  string
}{
	{"timed out", ErrorClassTimeout},
	{"timeout", ErrorClassTimeout},
	{"deadline exceeded", ErrorClassTimeout},
	{"connection refused", ErrorClassConnection},
	{"connection reset", ErrorClassConnection},
	{"no such host", ErrorClassConnection},
	{"broken pipe", ErrorClassConnection},
	{"network is unreachable", ErrorClassConnection},
	{"permission denied", ErrorClassPermissionDenied},
	{"unauthorized", ErrorClassPermissionDenied},
	{"forbidden", ErrorClassPermissionDenied},
	{"access denied", ErrorClassPermissionDenied},
	{"not found", ErrorClassNotFound},
	{"does not exist", ErrorClassNotFound},
	{"no such file", ErrorClassNotFound},
}

// ClassifyToolError maps a tool error message onto a coarse class for
// aggregation. Unrecognized messages classify as unknown.
func ClassifyToolError(message string) string {
	lower := strings.ToLower(message)
	for _, m := range errorClassMarkers {
		if strings.Contains(lower, m.substr) {
			return m.class
		}
	}
	return ErrorClassUnknown
}

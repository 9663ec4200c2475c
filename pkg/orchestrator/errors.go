package orchestrator

// Error codes surfaced on agent responses. Fixed taxonomy: every failure
// path maps onto exactly one of these.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeTimeout            = "TIMEOUT"
	CodeContextTooLong     = "CONTEXT_TOO_LONG"
	CodeToolError          = "TOOL_ERROR"
	CodeGuardRejected      = "GUARD_REJECTED"
	CodeHookRejected       = "HOOK_REJECTED"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeCircuitBreakerOpen = "CIRCUIT_BREAKER_OPEN"
	CodeUnknown            = "UNKNOWN"
)

// canonicalMessages are the default user-visible strings per code.
var canonicalMessages = map[string]string{
	CodeRateLimited:        "You're sending requests too quickly. Please wait a moment and try again.",
	CodeTimeout:            "The request took too long to complete. Please try again.",
	CodeContextTooLong:     "The conversation is too long for the model. Please start a new conversation.",
	CodeToolError:          "A tool needed to answer your request failed.",
	CodeGuardRejected:      "Your request was blocked by a safety policy.",
	CodeHookRejected:       "Your request was rejected.",
	CodeQuotaExceeded:      "Your organization's usage quota has been reached.",
	CodeCircuitBreakerOpen: "A downstream service is temporarily unavailable. Please try again shortly.",
	CodeUnknown:            "Something went wrong while processing your request.",
}

// MessageResolver maps (errorCode, originalMessage) to the user-visible
// string. Pluggable for localization.
type MessageResolver interface {
	Resolve(code, original string) string
}

// DefaultMessageResolver returns each code's canonical message; for tool
// errors it appends the original tool message so users can see what failed.
type DefaultMessageResolver struct{}

func (DefaultMessageResolver) Resolve(code, original string) string {
	msg, ok := canonicalMessages[code]
	if !ok {
		msg = canonicalMessages[CodeUnknown]
	}
	if code == CodeToolError && original != "" {
		return msg + " (" + original + ")"
	}
	return msg
}

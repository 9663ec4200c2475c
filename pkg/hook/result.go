package hook

// Result is the closed sum of before-hook outcomes. Dispatch switches
// exhaustively on the concrete type.
type Result interface {
	isResult()
}

// Continue lets the pipeline proceed to the next hook.
type Continue struct{}

// Reject stops the request (BeforeAgentStart) or skips the tool call
// (BeforeToolCall). Code optionally names the error-taxonomy entry the
// orchestrator should surface; empty means HOOK_REJECTED.
type Reject struct {
	Reason string
	Code   string
}

// Modify replaces parts of the request before it proceeds: Prompt/Metadata
// at agent level, Params at tool level. Zero-valued fields leave the
// original untouched.
type Modify struct {
	Prompt   string
	Metadata map[string]any
	Params   map[string]any
}

// PendingApproval parks the request awaiting a human decision.
type PendingApproval struct {
	ApprovalID string
	Message    string
}

func (Continue) isResult()        {}
func (Reject) isResult()          {}
func (Modify) isResult()          {}
func (PendingApproval) isResult() {}

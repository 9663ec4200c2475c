// Package tool defines the tool callback contract and a registry that
// validates arguments against each tool's declared JSON Schema.
package tool

import (
	"context"
	"fmt"
	"strings"
)

// ErrorPrefix marks a business-error result. Tools never return Go errors
// for business failures; they return a string starting with this prefix and
// the framework classifies it by keyword.
const ErrorPrefix = "Error:"

// Tool is one callable capability exposed to the agent.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON Schema (as a string) the arguments must
	// satisfy.
	InputSchema() string
	// Call executes the tool. Business errors are returned as values:
	// strings starting with "Error:". A Go error means the call itself
	// failed (transport, panic recovery) and is classified the same way.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// IsErrorResult reports whether a tool result value is a business error.
func IsErrorResult(result any) (string, bool) {
	s, ok := result.(string)
	if !ok || !strings.HasPrefix(s, ErrorPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, ErrorPrefix)), true
}

// Errorf formats a business-error result value.
func Errorf(format string, args ...any) string {
	return ErrorPrefix + " " + fmt.Sprintf(format, args...)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          string
	Fn              func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.ToolDescription }
func (f *Func) InputSchema() string { return f.Schema }
func (f *Func) Call(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

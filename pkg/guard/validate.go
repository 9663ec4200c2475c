package guard

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Input validation defaults.
const (
	DefaultInputMinChars = 1
	DefaultInputMaxChars = 10000
)

// ValidationConfig tunes the input-validation stage.
type ValidationConfig struct {
	MinChars int
	MaxChars int
	// SystemPromptMaxChars, when > 0, also bounds the length of the
	// "systemPrompt" metadata value.
	SystemPromptMaxChars int
}

// InputValidationStage (order 2) rejects texts outside the configured
// length bounds with INVALID_INPUT.
type InputValidationStage struct {
	cfg ValidationConfig
}

// NewInputValidationStage builds the stage with defaults filled in.
func NewInputValidationStage(cfg ValidationConfig) *InputValidationStage {
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultInputMinChars
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultInputMaxChars
	}
	return &InputValidationStage{cfg: cfg}
}

func (s *InputValidationStage) Name() string  { return "InputValidation" }
func (s *InputValidationStage) Order() int    { return 2 }
func (s *InputValidationStage) Enabled() bool { return true }

// Check validates the (already normalized) text length.
func (s *InputValidationStage) Check(_ context.Context, cmd *Command) Result {
	length := utf8.RuneCountInString(cmd.Text)
	if length < s.cfg.MinChars {
		return Rejected{
			Reason:   fmt.Sprintf("input too short: %d chars (minimum %d)", length, s.cfg.MinChars),
			Category: CategoryInvalidInput,
		}
	}
	if length > s.cfg.MaxChars {
		return Rejected{
			Reason:   fmt.Sprintf("input too long: %d chars (maximum %d)", length, s.cfg.MaxChars),
			Category: CategoryInvalidInput,
		}
	}

	if s.cfg.SystemPromptMaxChars > 0 {
		if sp, ok := cmd.Metadata["systemPrompt"].(string); ok {
			if n := utf8.RuneCountInString(sp); n > s.cfg.SystemPromptMaxChars {
				return Rejected{
					Reason:   fmt.Sprintf("system prompt too long: %d chars (maximum %d)", n, s.cfg.SystemPromptMaxChars),
					Category: CategoryInvalidInput,
				}
			}
		}
	}
	return Allowed{}
}

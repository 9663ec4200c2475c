package guard

import (
	"context"
	"regexp"
)

// piiPattern is one compiled redaction rule applied by the PII stage.
type piiPattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// builtinPIIPatterns is the general sweep applied to every response.
// Patterns are compiled once at package init.
var builtinPIIPatterns = []piiPattern{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[MASKED_EMAIL]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[MASKED_SSN]"},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[MASKED_CARD]"},
	{"phone", regexp.MustCompile(`\+?\d{1,3}[ -.]?\(?\d{2,4}\)?[ -.]?\d{3,4}[ -.]?\d{3,4}\b`), "[MASKED_PHONE]"},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[MASKED_AWS_KEY]"},
	{"api_key", regexp.MustCompile(`\b(sk|pk|rk)-[A-Za-z0-9_-]{16,}\b`), "[MASKED_API_KEY]"},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`), "Bearer [MASKED_TOKEN]"},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[MASKED_PRIVATE_KEY]"},
}

// PIIMaskingStage (output, order 0) replaces personally identifiable
// information and credential material in the response with redaction
// markers. Masking is a modification, not a rejection: users still get an
// answer, minus the leaked values.
type PIIMaskingStage struct {
	patterns []piiPattern
}

// NewPIIMaskingStage builds the stage with the built-in pattern set.
func NewPIIMaskingStage() *PIIMaskingStage {
	return &PIIMaskingStage{patterns: builtinPIIPatterns}
}

func (s *PIIMaskingStage) Name() string  { return "PIIMasking" }
func (s *PIIMaskingStage) Order() int    { return 0 }
func (s *PIIMaskingStage) Enabled() bool { return true }

// Inspect masks PII occurrences, if any.
func (s *PIIMaskingStage) Inspect(_ context.Context, cmd *OutputCommand) OutputResult {
	masked := cmd.Content
	hit := false
	for _, p := range s.patterns {
		if p.re.MatchString(masked) {
			masked = p.re.ReplaceAllString(masked, p.replacement)
			hit = true
		}
	}
	if !hit {
		return OutputAllowed{}
	}
	return OutputModified{Content: masked, Reason: "pii masked"}
}

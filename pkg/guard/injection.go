package guard

import (
	"context"
	"fmt"
	"regexp"
)

// injectionPatterns covers the known prompt-injection families. All compile
// case-insensitive at package init; an invalid pattern is a programming
// error and fails fast.
var injectionPatterns = []struct {
	name    string
	pattern string
}{
	// Role-override attempts
	{"role_override", `(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|directives?)`},
	{"role_override_disregard", `(?i)disregard\s+(all\s+|any\s+)?(previous|prior|above|earlier|your)\s+(instructions?|prompts?|rules?)`},
	{"role_override_forget", `(?i)forget\s+(everything|all)\s+(above|before|you\s+(know|were\s+told))`},
	{"role_reassign", `(?i)you\s+are\s+(now|no\s+longer)\s+(a|an|the)?\s*\w*\s*(assistant|ai|model|bot)`},
	{"new_persona", `(?i)(pretend|act\s+as\s+if|imagine)\s+(that\s+)?you\s+(are|have|were)\s+(no|not|never)\s`},

	// System-prompt extraction
	{"prompt_extraction", `(?i)(reveal|show|print|repeat|output|display)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions?|rules?|guidelines?)`},
	{"prompt_extraction_verbatim", `(?i)(repeat|echo)\s+(everything|all\s+text)\s+(above|before)`},

	// Output manipulation
	{"output_manipulation", `(?i)(respond|reply|answer)\s+only\s+with\s+(raw|unfiltered|json|code)`},
	{"output_override", `(?i)begin\s+your\s+(response|reply|answer)\s+with\s`},

	// Encoding bypass
	{"base64_smuggle", `(?i)(decode|execute|run|eval)\s+(this\s+|the\s+following\s+)?base64`},
	{"base64_blob", `[A-Za-z0-9+/]{80,}={0,2}`},
	{"rot13", `(?i)rot13`},
	{"hex_escape", `(?:\\x[0-9a-fA-F]{2}){8,}`},

	// Delimiter injection
	{"system_tag", `(?i)\[\s*/?\s*(system|assistant|inst)\s*\]`},
	{"chatml_tag", `(?i)<\|\s*(im_start|im_end|system|endoftext)\s*\|>`},
	{"llama_tag", `(?i)(\[INST\]|\[/INST\]|<<SYS>>|<</SYS>>)`},
	{"dash_wall", `-{20,}`},

	// Developer-mode escalation
	{"developer_mode", `(?i)(developer|debug|god|sudo|admin|dan)\s+mode`},
	{"jailbreak_name", `(?i)\bjailbreak`},

	// Safety override phrases
	{"safety_override", `(?i)(without|no|bypass(ing)?|disable|ignore)\s+(any\s+)?(safety|ethical|content)\s+(checks?|filters?|guidelines?|restrictions?|considerations?)`},
	{"anything_now", `(?i)do\s+anything\s+now`},

	// Many-shot jailbreak markers: long runs of fabricated dialogue turns
	{"many_shot", `(?is)(human|user)\s*:\s*.{0,200}(assistant|ai)\s*:\s*.{0,200}(human|user)\s*:\s*.{0,200}(assistant|ai)\s*:\s*.{0,200}(human|user)\s*:`},
}

type compiledInjectionPattern struct {
	name string
	re   *regexp.Regexp
}

var compiledInjectionPatterns = func() []compiledInjectionPattern {
	out := make([]compiledInjectionPattern, 0, len(injectionPatterns))
	for _, p := range injectionPatterns {
		out = append(out, compiledInjectionPattern{
			name: p.name,
			re:   regexp.MustCompile(p.pattern),
		})
	}
	return out
}()

// InjectionDetectionStage (order 3) evaluates the compiled injection
// patterns against the normalized text. A match rejects with
// PROMPT_INJECTION.
type InjectionDetectionStage struct {
	patterns []compiledInjectionPattern
}

// NewInjectionDetectionStage builds the stage with the built-in pattern set
// plus any extra patterns (pre-compiled by the caller via AddPattern).
func NewInjectionDetectionStage() *InjectionDetectionStage {
	return &InjectionDetectionStage{patterns: compiledInjectionPatterns}
}

// AddPattern appends a deployment-specific pattern. Returns an error when
// the expression does not compile.
func (s *InjectionDetectionStage) AddPattern(name, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid injection pattern %q: %w", name, err)
	}
	s.patterns = append(s.patterns, compiledInjectionPattern{name: name, re: re})
	return nil
}

func (s *InjectionDetectionStage) Name() string  { return "InjectionDetection" }
func (s *InjectionDetectionStage) Order() int    { return 3 }
func (s *InjectionDetectionStage) Enabled() bool { return true }

// Check scans for injection markers.
func (s *InjectionDetectionStage) Check(_ context.Context, cmd *Command) Result {
	for _, p := range s.patterns {
		if p.re.MatchString(cmd.Text) {
			return Rejected{
				Reason:   fmt.Sprintf("prompt injection pattern matched: %s", p.name),
				Category: CategoryPromptInjection,
			}
		}
	}
	return Allowed{}
}

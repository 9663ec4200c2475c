package guard

import (
	"context"
	"fmt"
	"regexp"
)

// StaticPattern is one fixed operator-configured output pattern.
type StaticPattern struct {
	Name    string
	Pattern string
}

// StaticPatternStage (output, order 3) rejects responses matching the fixed
// pattern set configured at startup. Unlike DynamicRules these never change
// at runtime, so they are compiled once in the constructor.
type StaticPatternStage struct {
	patterns []piiPattern
	enabled  bool
}

// NewStaticPatternStage compiles the given patterns. Invalid patterns are
// returned as an error rather than skipped: startup config must be correct.
func NewStaticPatternStage(patterns []StaticPattern) (*StaticPatternStage, error) {
	compiled := make([]piiPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling output pattern %q: %w", p.Name, err)
		}
		compiled = append(compiled, piiPattern{name: p.Name, re: re})
	}
	return &StaticPatternStage{patterns: compiled, enabled: len(compiled) > 0}, nil
}

func (s *StaticPatternStage) Name() string  { return "StaticPatterns" }
func (s *StaticPatternStage) Order() int    { return 3 }
func (s *StaticPatternStage) Enabled() bool { return s.enabled }

// Inspect rejects on the first matching pattern.
func (s *StaticPatternStage) Inspect(_ context.Context, cmd *OutputCommand) OutputResult {
	for _, p := range s.patterns {
		if p.re.MatchString(cmd.Content) {
			return OutputRejected{
				Reason:   fmt.Sprintf("response matched blocked pattern %s", p.name),
				Category: CategoryPolicyRule,
			}
		}
	}
	return OutputAllowed{}
}

package guard

import (
	"context"
	"strings"
	"sync"
)

// MetaKeyCanaryToken is the metadata key under which the orchestrator
// records the canary injected into the system prompt for this run.
const MetaKeyCanaryToken = "canaryToken"

// CanaryDetectionStage (output, order 1) rejects any response containing a
// canary token: a secret planted in the system prompt whose appearance in
// output proves prompt leakage.
//
// Tokens come from two sources: the static set configured at startup and a
// per-run token read from the command metadata.
type CanaryDetectionStage struct {
	mu     sync.RWMutex
	tokens []string
}

// NewCanaryDetectionStage builds the stage with the given static tokens.
// Empty tokens are ignored.
func NewCanaryDetectionStage(tokens ...string) *CanaryDetectionStage {
	s := &CanaryDetectionStage{}
	for _, t := range tokens {
		if t != "" {
			s.tokens = append(s.tokens, t)
		}
	}
	return s
}

// AddToken registers another static canary at runtime.
func (s *CanaryDetectionStage) AddToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
}

func (s *CanaryDetectionStage) Name() string  { return "CanaryDetection" }
func (s *CanaryDetectionStage) Order() int    { return 1 }
func (s *CanaryDetectionStage) Enabled() bool { return true }

// Inspect scans the content for any known canary.
func (s *CanaryDetectionStage) Inspect(_ context.Context, cmd *OutputCommand) OutputResult {
	s.mu.RLock()
	tokens := s.tokens
	s.mu.RUnlock()

	for _, t := range tokens {
		if strings.Contains(cmd.Content, t) {
			return OutputRejected{
				Reason:   "canary token detected in response",
				Category: CategoryCanaryLeak,
			}
		}
	}
	if runToken, ok := cmd.Metadata[MetaKeyCanaryToken].(string); ok && runToken != "" {
		if strings.Contains(cmd.Content, runToken) {
			return OutputRejected{
				Reason:   "per-run canary token detected in response",
				Category: CategoryCanaryLeak,
			}
		}
	}
	return OutputAllowed{}
}

package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Classifier is the LLM-backed half of the classification stage. It returns
// true when the text should be blocked. Implementations typically call a
// small, cheap model.
type Classifier interface {
	ShouldBlock(ctx context.Context, text string) (bool, string, error)
}

// ClassificationConfig tunes the opt-in classification stage.
type ClassificationConfig struct {
	Enabled bool
	// BlockedKeywords always block on a case-insensitive substring match.
	BlockedKeywords []string
	// Classifier, when non-nil, runs after the keyword rules. LLM failures
	// are fail-open: the request proceeds.
	Classifier Classifier
}

// ClassificationStage (order 4, opt-in) combines rule-based and LLM-based
// topic classification. The keyword rules always run and block on match;
// the LLM half is advisory and fail-open.
type ClassificationStage struct {
	cfg      ClassificationConfig
	keywords []string
	logger   *slog.Logger
}

// NewClassificationStage builds the stage; keywords are lowercased once.
func NewClassificationStage(cfg ClassificationConfig) *ClassificationStage {
	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, k := range cfg.BlockedKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &ClassificationStage{
		cfg:      cfg,
		keywords: keywords,
		logger:   slog.With("component", "guard", "stage", "Classification"),
	}
}

func (s *ClassificationStage) Name() string  { return "Classification" }
func (s *ClassificationStage) Order() int    { return 4 }
func (s *ClassificationStage) Enabled() bool { return s.cfg.Enabled }

// Check applies keyword rules, then the optional LLM classifier.
func (s *ClassificationStage) Check(ctx context.Context, cmd *Command) Result {
	lower := strings.ToLower(cmd.Text)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			return Rejected{
				Reason:   fmt.Sprintf("blocked keyword: %q", kw),
				Category: CategoryOffTopic,
			}
		}
	}

	if s.cfg.Classifier != nil {
		block, reason, err := s.cfg.Classifier.ShouldBlock(ctx, cmd.Text)
		if err != nil {
			// Fail-open, including on cancellation: the orchestrator
			// observes ctx.Err() right after the pipeline returns, so a
			// cancelled request is never misreported as a guard rejection.
			if ctx.Err() == nil {
				s.logger.Warn("LLM classification failed, allowing request", "error", err)
			}
			return Allowed{}
		}
		if block {
			return Rejected{Reason: reason, Category: CategoryOffTopic}
		}
	}
	return Allowed{}
}

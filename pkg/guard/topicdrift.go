package guard

import (
	"context"
	"fmt"
	"strings"
)

// Topic-drift defaults.
const (
	DefaultDriftThreshold  = 0.7
	DefaultDriftWindowSize = 6
)

// driftMarkers score escalation language in recent turns. Each match adds
// its weight to the turn score; turn scores decay with age across the
// window.
var driftMarkers = []struct {
	substr string
	weight float64
}{
	{"ignore", 0.25},
	{"bypass", 0.3},
	{"override", 0.3},
	{"jailbreak", 0.5},
	{"pretend", 0.2},
	{"roleplay", 0.2},
	{"hypothetically", 0.15},
	{"for a story", 0.15},
	{"no restrictions", 0.4},
	{"uncensored", 0.4},
	{"secret", 0.15},
	{"system prompt", 0.35},
}

// TopicDriftConfig tunes the opt-in topic-drift stage.
type TopicDriftConfig struct {
	Enabled    bool
	Threshold  float64
	WindowSize int
}

// TopicDriftStage (order 6, opt-in) scores escalation across a sliding
// window of recent user turns from the conversation history. A gradually
// escalating conversation scores higher than isolated matches; crossing the
// threshold rejects with OFF_TOPIC.
type TopicDriftStage struct {
	threshold  float64
	windowSize int
	enabled    bool
}

// NewTopicDriftStage builds the stage with defaults filled in.
func NewTopicDriftStage(cfg TopicDriftConfig) *TopicDriftStage {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultDriftWindowSize
	}
	return &TopicDriftStage{threshold: threshold, windowSize: window, enabled: cfg.Enabled}
}

func (s *TopicDriftStage) Name() string  { return "TopicDriftDetection" }
func (s *TopicDriftStage) Order() int    { return 6 }
func (s *TopicDriftStage) Enabled() bool { return s.enabled }

// Check scores the current text plus the recent user turns.
func (s *TopicDriftStage) Check(_ context.Context, cmd *Command) Result {
	turns := recentUserTurns(cmd.History(), s.windowSize-1)
	turns = append(turns, cmd.Text)

	score := driftScore(turns)
	if score > s.threshold {
		return Rejected{
			Reason:   fmt.Sprintf("conversation drift score %.2f exceeds threshold %.2f", score, s.threshold),
			Category: CategoryOffTopic,
		}
	}
	return Allowed{}
}

// recentUserTurns returns up to n of the latest user-role entries, oldest
// first.
func recentUserTurns(history []HistoryEntry, n int) []string {
	if n <= 0 {
		return nil
	}
	var turns []string
	for _, entry := range history {
		if strings.EqualFold(entry.Role, "user") {
			turns = append(turns, entry.Content)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

// driftScore weights marker hits by recency: the newest turn counts fully,
// older turns decay linearly. The result is the recency-weighted mean turn
// score, so sustained escalation dominates single spikes.
func driftScore(turns []string) float64 {
	if len(turns) == 0 {
		return 0
	}
	var weighted, totalWeight float64
	for i, turn := range turns {
		recency := float64(i+1) / float64(len(turns))
		weighted += turnScore(turn) * recency
		totalWeight += recency
	}
	return weighted / totalWeight
}

func turnScore(text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, m := range driftMarkers {
		if strings.Contains(lower, m.substr) {
			score += m.weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

package guard

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxZeroWidthRatio rejects inputs whose pre-strip share of
// zero-width code points exceeds this fraction.
const DefaultMaxZeroWidthRatio = 0.10

// defaultHomoglyphs maps common Cyrillic/Greek lookalikes onto their ASCII
// targets. Extended per deployment via UnicodeConfig.Homoglyphs.
var defaultHomoglyphs = map[rune]rune{
	'а': 'a', // U+0430 cyrillic
	'е': 'e', // U+0435
	'о': 'o', // U+043E
	'р': 'p', // U+0440
	'с': 'c', // U+0441
	'х': 'x', // U+0445
	'у': 'y', // U+0443
	'і': 'i', // U+0456
	'ѕ': 's', // U+0455
	'ј': 'j', // U+0458
	'Α': 'A', // U+0391 greek
	'Β': 'B', // U+0392
	'Ε': 'E', // U+0395
	'Ο': 'O', // U+039F
	'Ρ': 'P', // U+03A1
	'Τ': 'T', // U+03A4
}

// UnicodeConfig tunes the normalization stage.
type UnicodeConfig struct {
	MaxZeroWidthRatio float64
	Homoglyphs        map[rune]rune // merged over the defaults
}

// UnicodeNormalizationStage (order 0) applies NFKC, strips zero-width code
// points, replaces configured homoglyphs, and hands the cleaned text to
// downstream stages via a "normalized:" hint. Inputs that are mostly
// zero-width characters are rejected outright.
type UnicodeNormalizationStage struct {
	maxZeroWidthRatio float64
	homoglyphs        map[rune]rune
}

// NewUnicodeNormalizationStage builds the stage with defaults filled in.
func NewUnicodeNormalizationStage(cfg UnicodeConfig) *UnicodeNormalizationStage {
	ratio := cfg.MaxZeroWidthRatio
	if ratio <= 0 {
		ratio = DefaultMaxZeroWidthRatio
	}
	homoglyphs := make(map[rune]rune, len(defaultHomoglyphs)+len(cfg.Homoglyphs))
	for k, v := range defaultHomoglyphs {
		homoglyphs[k] = v
	}
	for k, v := range cfg.Homoglyphs {
		homoglyphs[k] = v
	}
	return &UnicodeNormalizationStage{
		maxZeroWidthRatio: ratio,
		homoglyphs:        homoglyphs,
	}
}

func (s *UnicodeNormalizationStage) Name() string  { return "UnicodeNormalization" }
func (s *UnicodeNormalizationStage) Order() int    { return 0 }
func (s *UnicodeNormalizationStage) Enabled() bool { return true }

// Check normalizes the command text.
func (s *UnicodeNormalizationStage) Check(_ context.Context, cmd *Command) Result {
	text := norm.NFKC.String(cmd.Text)

	total := 0
	zeroWidth := 0
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		total++
		if isZeroWidth(r) {
			zeroWidth++
			continue
		}
		if repl, ok := s.homoglyphs[r]; ok {
			b.WriteRune(repl)
			continue
		}
		b.WriteRune(r)
	}

	if total > 0 {
		ratio := float64(zeroWidth) / float64(total)
		if ratio > s.maxZeroWidthRatio {
			return Rejected{
				Reason: fmt.Sprintf(
					"zero-width character ratio %.2f exceeds limit %.2f",
					ratio, s.maxZeroWidthRatio),
				Category: CategoryInvalidInput,
			}
		}
	}

	return Allowed{Hints: []string{NormalizedHintPrefix + b.String()}}
}

// isZeroWidth reports whether r is an invisible code point commonly used to
// smuggle payloads past keyword checks.
func isZeroWidth(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F:
		return true
	case r == 0xFEFF, r == 0x00AD, r == 0x180E:
		return true
	case r >= 0x2060 && r <= 0x2064:
		return true
	case r >= 0xE0000 && r <= 0xE007F:
		return true
	}
	return false
}

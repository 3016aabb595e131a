package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/sandevgo/recall/internal/core"
)

const maxPatternValueLen = 80

type factPattern struct {
	re       *regexp.Regexp
	category core.Category
	key      string
	// value maps the captured text to the stored value; nil stores the capture as is
	value func(capture string) string
}

var factPatterns = []factPattern{
	{
		re:       regexp.MustCompile(`\b(?i:my name is)\s+(\p{L}[\p{L}'\-]*(?:\s+\p{Lu}[\p{L}'\-]*)?)`),
		category: core.CategoryContext,
		key:      "name",
	},
	{
		re:       regexp.MustCompile(`(?i)\bcall me\s+(\p{L}[\p{L}'\-]*)`),
		category: core.CategoryContext,
		key:      "name",
	},
	{
		re:       regexp.MustCompile(`(?i)\bi live in\s+([^.,!?;\n]+)`),
		category: core.CategoryContext,
		key:      "location",
	},
	{
		re:       regexp.MustCompile(`(?i)\bi work as\s+(?:an?\s+)?([^.,!?;\n]+)`),
		category: core.CategoryContext,
		key:      "occupation",
	},
	{
		re:       regexp.MustCompile(`(?i)\bi prefer\s+(short|brief|concise|detailed|long)\b`),
		category: core.CategoryPreferences,
		key:      "response_length",
		value: func(c string) string {
			switch strings.ToLower(c) {
			case "detailed", "long":
				return "detailed"
			}
			return "short"
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\bi (?:really )?(?:like|love)\s+([^.,!?;\n]+)`),
		category: core.CategoryPreferences,
		key:      "likes",
	},
	{
		re:       regexp.MustCompile(`(?i)\bi usually\s+([^.,!?;\n]+)`),
		category: core.CategoryBehaviorPatterns,
		key:      "routine",
	},
}

// PatternExtractor finds a handful of self-descriptions with regular expressions.
// It needs no model and is the default extractor.
type PatternExtractor struct{}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

func (PatternExtractor) Extract(ctx context.Context, text string) ([]core.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type match struct {
		pos  int
		fact core.Fact
	}
	var matches []match
	for _, p := range factPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			capture := strings.TrimSpace(text[loc[2]:loc[3]])
			if capture == "" {
				continue
			}
			if p.value != nil {
				capture = p.value(capture)
			}
			matches = append(matches, match{
				pos: loc[0],
				fact: core.Fact{
					Category: p.category,
					Key:      p.key,
					Value:    core.String(clip(capture, maxPatternValueLen)),
				},
			})
		}
	}

	// facts follow the text, so a later statement wins the merge
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	var facts []core.Fact
	for _, m := range matches {
		facts = append(facts, m.fact)
	}
	return facts, nil
}

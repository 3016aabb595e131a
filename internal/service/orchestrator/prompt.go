package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sandevgo/recall/internal/core"
)

// Layer names double as token_usage.breakdown keys.
const (
	LayerSystem      = "system_instructions"
	LayerProfile     = "user_profile"
	LayerCorrections = "feedback_corrections"
	LayerSummary     = "conversation_summary"
	LayerSemantic    = "semantic_context"
	LayerRecent      = "recent_messages"
	LayerCurrent     = "current_message"
)

// LayerOrder is the order in which layers appear in the prompt.
var LayerOrder = []string{
	LayerSystem,
	LayerProfile,
	LayerCorrections,
	LayerSummary,
	LayerSemantic,
	LayerRecent,
	LayerCurrent,
}

const (
	layerSeparator      = "\n\n"
	semanticContentRune = 200
)

var profileCategories = []core.Category{
	core.CategoryPreferences,
	core.CategoryBehaviorPatterns,
	core.CategoryContext,
}

func renderSystem(prompt string) string {
	return strings.TrimSpace(prompt)
}

func renderCurrent(message string) string {
	return "User: " + message + layerSeparator + "Assistant:"
}

func correctionLine(c core.Correction) string {
	return "- " + c.CorrectionText
}

func renderCorrections(cs []core.Correction) string {
	if len(cs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Corrections from the user (hard constraints, always follow)")
	for _, c := range cs {
		b.WriteByte('\n')
		b.WriteString(correctionLine(c))
	}
	return b.String()
}

// profileLines lists facts grouped by category, keys sorted, for stable prompts.
func profileLines(p core.UserProfile) []string {
	var lines []string
	for _, cat := range profileCategories {
		section := p.Section(cat)
		keys := make([]string, 0, len(section))
		for k := range section {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s.%s: %s", cat, k, section[k]))
		}
	}
	return lines
}

func renderProfile(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return "## User Profile\n" + strings.Join(lines, "\n")
}

func renderSummary(s *core.Summary) string {
	if s.IsEmpty() {
		return ""
	}
	return fmt.Sprintf("## Conversation Summary\n%s\n(Covers messages %d to %d)",
		s.Text, s.MessageRangeStart, s.MessageRangeEnd)
}

func semanticLine(r core.ScoredRecord) string {
	content := []rune(r.Content)
	if len(content) > semanticContentRune {
		content = append(content[:semanticContentRune], '…')
	}
	return fmt.Sprintf("- (similarity %.2f) %s", r.Similarity, string(content))
}

func renderSemantic(rs []core.ScoredRecord) string {
	if len(rs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant Past Conversations")
	for _, r := range rs {
		b.WriteByte('\n')
		b.WriteString(semanticLine(r))
	}
	return b.String()
}

func turnLine(t core.Turn) string {
	role := "User"
	if t.Role == core.RoleAssistant {
		role = "Assistant"
	}
	return role + ": " + t.Content
}

func renderRecent(turns []core.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent Conversation")
	for _, t := range turns {
		b.WriteByte('\n')
		b.WriteString(turnLine(t))
	}
	return b.String()
}

// assemble joins the non-empty layers in LayerOrder.
func assemble(layers map[string]string) string {
	parts := make([]string, 0, len(LayerOrder))
	for _, name := range LayerOrder {
		if text := layers[name]; text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, layerSeparator)
}

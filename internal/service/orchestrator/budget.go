package orchestrator

import (
	"slices"

	"github.com/sandevgo/recall/internal/core"
)

type tokenCounter interface {
	Count(text, model string) int
	Truncate(text, model string, maxTokens int) string
}

type budgetInput struct {
	Window        int
	Reserve       int
	CorrectionCap int

	System      string
	Message     string
	Corrections []core.Correction
	Profile     core.UserProfile
	Summary     *core.Summary
	Turns       []core.Turn
	Semantic    []core.ScoredRecord
}

type allocation struct {
	Prompt    string
	Total     int
	Breakdown map[string]int

	Corrections []core.Correction
	Profile     []string
	Summary     *core.Summary
	// Turns is the included suffix of the live window, oldest first.
	Turns    []core.Turn
	Semantic []core.ScoredRecord
}

type budget struct {
	tc    tokenCounter
	model string
}

func (b budget) count(text string) int {
	return b.tc.Count(text, b.model)
}

// allocate fits the layers into Window-Reserve tokens. System instructions, the
// capped corrections and the current message are mandatory; the rest is filled in
// priority order: recent turns (newest first) and the summary, profile facts,
// then semantic matches by rank.
func (b budget) allocate(in budgetInput) (*allocation, error) {
	a := &allocation{
		Corrections: b.capCorrections(in.Corrections, in.CorrectionCap),
	}

	system := renderSystem(in.System)
	current := renderCurrent(in.Message)
	mandatory := b.count(assemble(map[string]string{
		LayerSystem:      system,
		LayerCorrections: renderCorrections(a.Corrections),
		LayerCurrent:     current,
	}))
	if mandatory+in.Reserve > in.Window {
		return nil, &core.BudgetExhaustedError{Required: mandatory + in.Reserve, Available: in.Window}
	}

	remaining := in.Window - in.Reserve - mandatory
	sep := b.count(layerSeparator)

	// take charges cost against remaining; header is paid by the first item of a layer
	take := func(cost, header int, first bool) bool {
		if first {
			cost += header + sep
		}
		if cost > remaining {
			return false
		}
		remaining -= cost
		return true
	}

	recentHeader := b.count(renderRecent([]core.Turn{{}})) - b.count(turnLine(core.Turn{}))
	for i := len(in.Turns) - 1; i >= 0; i-- {
		if !take(b.count(turnLine(in.Turns[i]))+1, recentHeader, len(a.Turns) == 0) {
			break
		}
		a.Turns = append(a.Turns, in.Turns[i])
	}
	slices.Reverse(a.Turns)

	if !in.Summary.IsEmpty() && take(b.count(renderSummary(in.Summary)), 0, true) {
		a.Summary = in.Summary
	}

	profileHeader := b.count(renderProfile([]string{""}))
	for _, line := range profileLines(in.Profile) {
		if !take(b.count(line)+1, profileHeader, len(a.Profile) == 0) {
			break
		}
		a.Profile = append(a.Profile, line)
	}

	semanticHeader := b.count(renderSemantic([]core.ScoredRecord{{}})) - b.count(semanticLine(core.ScoredRecord{}))
	for _, r := range in.Semantic {
		if !take(b.count(semanticLine(r))+1, semanticHeader, len(a.Semantic) == 0) {
			break
		}
		a.Semantic = append(a.Semantic, r)
	}

	// per-item estimates can drift from the joined text, so trim until the real count fits
	for {
		layers := b.layers(a, system, current)
		a.Prompt = assemble(layers)
		a.Total = b.count(a.Prompt)
		if a.Total+in.Reserve <= in.Window {
			a.Breakdown = make(map[string]int, len(LayerOrder))
			for _, name := range LayerOrder {
				a.Breakdown[name] = b.count(layers[name])
			}
			return a, nil
		}
		if !a.dropLowest() {
			return nil, &core.BudgetExhaustedError{Required: a.Total + in.Reserve, Available: in.Window}
		}
	}
}

func (b budget) layers(a *allocation, system, current string) map[string]string {
	return map[string]string{
		LayerSystem:      system,
		LayerProfile:     renderProfile(a.Profile),
		LayerCorrections: renderCorrections(a.Corrections),
		LayerSummary:     renderSummary(a.Summary),
		LayerSemantic:    renderSemantic(a.Semantic),
		LayerRecent:      renderRecent(a.Turns),
		LayerCurrent:     current,
	}
}

// dropLowest removes the least important optional item, reporting false when only
// mandatory content is left.
func (a *allocation) dropLowest() bool {
	switch {
	case len(a.Semantic) > 0:
		a.Semantic = a.Semantic[:len(a.Semantic)-1]
	case len(a.Profile) > 0:
		a.Profile = a.Profile[:len(a.Profile)-1]
	case a.Summary != nil:
		a.Summary = nil
	case len(a.Turns) > 0:
		a.Turns = a.Turns[1:]
	default:
		return false
	}
	return true
}

// capCorrections keeps the newest corrections whose lines fit in maxTokens and
// returns them oldest first. The newest one is always kept, truncated if needed.
func (b budget) capCorrections(cs []core.Correction, maxTokens int) []core.Correction {
	if len(cs) == 0 {
		return []core.Correction{}
	}
	if maxTokens <= 0 {
		return slices.Clone(cs)
	}

	var (
		kept []core.Correction
		used int
	)
	for i := len(cs) - 1; i >= 0; i-- {
		c := cs[i]
		cost := b.count(correctionLine(c)) + 1
		if used+cost > maxTokens {
			if len(kept) == 0 {
				c.CorrectionText = b.tc.Truncate(c.CorrectionText, b.model, maxTokens-b.count("- ")-1)
				kept = append(kept, c)
			}
			break
		}
		used += cost
		kept = append(kept, c)
	}
	slices.Reverse(kept)
	return kept
}

func includedIDs(turns []core.Turn) map[string]bool {
	ids := make(map[string]bool, len(turns))
	for _, t := range turns {
		ids[t.ID] = true
	}
	return ids
}

package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter counts whitespace separated words, which keeps the arithmetic readable.
type wordCounter struct{}

func (wordCounter) Count(text, _ string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Truncate(text, _ string, maxTokens int) string {
	words := strings.Fields(text)
	if maxTokens <= 0 {
		return ""
	}
	if len(words) > maxTokens {
		words = words[:maxTokens]
	}
	return strings.Join(words, " ")
}

func turns(contents ...string) []core.Turn {
	out := make([]core.Turn, len(contents))
	for i, c := range contents {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		out[i] = core.Turn{ID: c, Seq: int64(i + 1), Role: role, Content: c}
	}
	return out
}

func baseInput() budgetInput {
	p := core.NewUserProfile("u1")
	p.Context["name"] = core.String("Alice")
	p.Preferences["units"] = core.String("metric")

	return budgetInput{
		Window:        1000,
		Reserve:       100,
		CorrectionCap: 50,
		System:        "be helpful",
		Message:       "what now",
		Corrections: []core.Correction{
			{ID: "c1", CorrectionText: "use metric units"},
		},
		Profile: p,
		Summary: &core.Summary{Text: "we talked about ovens", MessageRangeStart: 1, MessageRangeEnd: 4},
		Turns:   turns("first question here", "first answer", "second question here", "second answer"),
		Semantic: []core.ScoredRecord{
			{SemanticRecord: core.SemanticRecord{ID: "s1", Content: "climate talk"}, Similarity: 0.91},
			{SemanticRecord: core.SemanticRecord{ID: "s2", Content: "more climate talk"}, Similarity: 0.8},
		},
	}
}

func TestAllocate_EverythingFits(t *testing.T) {
	b := budget{tc: wordCounter{}}
	a, err := b.allocate(baseInput())
	require.NoError(t, err)

	assert.Len(t, a.Turns, 4)
	assert.NotNil(t, a.Summary)
	assert.Len(t, a.Profile, 2)
	assert.Len(t, a.Semantic, 2)
	assert.Len(t, a.Corrections, 1)

	// layers appear in fixed order
	var last int
	for _, marker := range []string{
		"be helpful",
		"## User Profile",
		"## Corrections from the user",
		"## Conversation Summary",
		"## Relevant Past Conversations",
		"## Recent Conversation",
		"User: what now\n\nAssistant:",
	} {
		idx := strings.Index(a.Prompt, marker)
		require.GreaterOrEqual(t, idx, last, marker)
		last = idx
	}
	assert.True(t, strings.HasSuffix(a.Prompt, "Assistant:"))

	assert.Equal(t, wordCounter{}.Count(a.Prompt, ""), a.Total)
	sum := 0
	for _, name := range LayerOrder {
		sum += a.Breakdown[name]
	}
	assert.Equal(t, a.Total, sum)
}

func TestAllocate_NeverExceedsWindow(t *testing.T) {
	b := budget{tc: wordCounter{}}
	full, err := b.allocate(baseInput())
	require.NoError(t, err)

	for window := full.Total + 100; window >= 0; window-- {
		in := baseInput()
		in.Window = window

		a, err := b.allocate(in)
		if err != nil {
			assert.ErrorIs(t, err, core.ErrBudgetExhausted)
			continue
		}
		assert.LessOrEqual(t, a.Total+in.Reserve, window)
		assert.Contains(t, a.Prompt, "use metric units")
		assert.Contains(t, a.Prompt, "User: what now")
	}
}

// mandatoryTokens is the floor of baseInput: system, correction and current message.
func mandatoryTokens(t *testing.T, b budget) int {
	t.Helper()
	in := baseInput()
	a, err := b.allocate(budgetInput{
		Window: in.Window, Reserve: in.Reserve, CorrectionCap: in.CorrectionCap,
		System: in.System, Message: in.Message, Corrections: in.Corrections,
	})
	require.NoError(t, err)
	return a.Total
}

func TestAllocate_Priority(t *testing.T) {
	b := budget{tc: wordCounter{}}
	floor := mandatoryTokens(t, b)

	tests := []struct {
		name     string
		room     int
		turns    int
		summary  bool
		profile  int
		semantic int
	}{
		{name: "one semantic match", room: 54, turns: 4, summary: true, profile: 2, semantic: 1},
		{name: "no semantic matches", room: 40, turns: 4, summary: true, profile: 1, semantic: 0},
		{name: "summary does not fit", room: 30, turns: 4, summary: false, profile: 1, semantic: 0},
		{name: "only recent turns", room: 15, turns: 2, summary: false, profile: 0, semantic: 0},
		{name: "nothing optional", room: 0, turns: 0, summary: false, profile: 0, semantic: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			in.Window = in.Reserve + floor + tt.room

			a, err := b.allocate(in)
			require.NoError(t, err)
			assert.Len(t, a.Turns, tt.turns)
			assert.Equal(t, tt.summary, a.Summary != nil)
			assert.Len(t, a.Profile, tt.profile)
			assert.Len(t, a.Semantic, tt.semantic)
			assert.LessOrEqual(t, a.Total+in.Reserve, in.Window)
		})
	}
}

func TestAllocate_KeepsNewestTurns(t *testing.T) {
	b := budget{tc: wordCounter{}}
	in := baseInput()
	in.Summary = nil
	in.Profile = core.NewUserProfile("u1")
	in.Semantic = nil

	// room for the header and a single short line
	in.Window = mandatoryTokens(t, b) + in.Reserve + 10
	a, err := b.allocate(in)
	require.NoError(t, err)
	require.NotEmpty(t, a.Turns)
	assert.Less(t, len(a.Turns), 4)
	assert.Equal(t, "second answer", a.Turns[len(a.Turns)-1].Content)
	for i := 1; i < len(a.Turns); i++ {
		assert.Less(t, a.Turns[i-1].Seq, a.Turns[i].Seq)
	}
}

func TestAllocate_MandatoryOverflow(t *testing.T) {
	b := budget{tc: wordCounter{}}
	in := baseInput()
	in.Window = 20
	in.Reserve = 15

	_, err := b.allocate(in)
	var berr *core.BudgetExhaustedError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 20, berr.Available)
	assert.Greater(t, berr.Required, 20)
}

func TestCapCorrections(t *testing.T) {
	b := budget{tc: wordCounter{}}
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	cs := []core.Correction{
		{ID: "old", CorrectionText: "one two three four", CreatedAt: now},
		{ID: "mid", CorrectionText: "five six", CreatedAt: now.Add(time.Minute)},
		{ID: "new", CorrectionText: "seven eight nine", CreatedAt: now.Add(2 * time.Minute)},
	}

	tests := []struct {
		name string
		cap  int
		ids  []string
	}{
		{name: "uncapped", cap: 0, ids: []string{"old", "mid", "new"}},
		{name: "all fit", cap: 100, ids: []string{"old", "mid", "new"}},
		{name: "newest two", cap: 9, ids: []string{"mid", "new"}},
		{name: "newest only", cap: 5, ids: []string{"new"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.capCorrections(cs, tt.cap)
			var ids []string
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	t.Run("newest is truncated to fit", func(t *testing.T) {
		got := b.capCorrections(cs, 3)
		require.Len(t, got, 1)
		assert.Equal(t, "new", got[0].ID)
		assert.Equal(t, "seven", got[0].CorrectionText)
		assert.Equal(t, "seven eight nine", cs[2].CorrectionText)
	})

	assert.NotNil(t, b.capCorrections(nil, 10))
}

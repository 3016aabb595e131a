package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedbackStore(t *testing.T, maxAge time.Duration) *FeedbackStore {
	t.Helper()
	s := NewFeedbackStore(sqlite.NewCorrectionsRepo(newTestDB(t)), []string{"Incorrect:", " wrong: "}, maxAge)
	s.now = stepClock()
	return s
}

func TestFeedbackStore_Detect(t *testing.T) {
	s := newFeedbackStore(t, 0)

	tests := []struct {
		text    string
		payload string
		ok      bool
	}{
		{text: "Incorrect: You called me Bob. My name is Alice.", payload: "You called me Bob. My name is Alice.", ok: true},
		{text: "  incorrect:   use metric units", payload: "use metric units", ok: true},
		{text: "WRONG: it is Tuesday", payload: "it is Tuesday", ok: true},
		{text: "Incorrect:", ok: false},
		{text: "That was incorrect: try again", ok: false},
		{text: "Hello there", ok: false},
		{text: "Inc", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			payload, ok := s.Detect(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.payload, payload)
		})
	}
}

func TestFeedbackStore_DetectAndStore(t *testing.T) {
	s := newFeedbackStore(t, 0)
	ctx := context.Background()

	c, err := s.DetectAndStore(ctx, "alice", "c1", "Incorrect: You called me Bob. My name is Alice.")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Contains(t, c.CorrectionText, "My name is Alice")
	assert.Equal(t, "Incorrect: You called me Bob. My name is Alice.", c.TriggerExcerpt)
	assert.NotEmpty(t, c.ID)

	none, err := s.DetectAndStore(ctx, "alice", "c1", "thanks!")
	require.NoError(t, err)
	assert.Nil(t, none)

	active, err := s.ActiveCorrections(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, c.ID, active[0].ID)

	others, err := s.ActiveCorrections(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, others)
	assert.Empty(t, others)
}

func TestFeedbackStore_CorrectionsAreAdditive(t *testing.T) {
	s := newFeedbackStore(t, 0)
	ctx := context.Background()

	for _, text := range []string{"Incorrect: first", "Incorrect: second", "Incorrect: first"} {
		_, err := s.DetectAndStore(ctx, "u1", "c1", text)
		require.NoError(t, err)
	}

	active, err := s.ActiveCorrections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "first", active[0].CorrectionText)
	assert.Equal(t, "second", active[1].CorrectionText)
	assert.Equal(t, "first", active[2].CorrectionText)
}

func TestFeedbackStore_MaxAge(t *testing.T) {
	s := newFeedbackStore(t, 90*time.Second)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	_, err := s.DetectAndStore(ctx, "u1", "c1", "Incorrect: old rule")
	require.NoError(t, err)
	clock = base.Add(time.Minute)
	_, err = s.DetectAndStore(ctx, "u1", "c1", "Incorrect: new rule")
	require.NoError(t, err)

	clock = base.Add(2 * time.Minute)
	active, err := s.ActiveCorrections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "new rule", active[0].CorrectionText)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/internal/storage/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetriever(t *testing.T) *SemanticRetriever {
	t.Helper()
	r := NewSemanticRetriever(vector.NewMemoryIndex(), newTopicEmbedder(), time.Second)
	r.now = stepClock()
	return r
}

func TestSemanticRetriever_ThresholdAndOrder(t *testing.T) {
	r := newRetriever(t)
	ctx := context.Background()

	_, err := r.Index(ctx, "u1", "I am worried about climate change", map[string]core.Value{"conversation_id": core.String("c1")})
	require.NoError(t, err)
	_, err = r.Index(ctx, "u1", "Here is a recipe for banana bread", nil)
	require.NoError(t, err)
	newest, err := r.Index(ctx, "u1", "Climate change and emissions policy", map[string]core.Value{"conversation_id": core.String("c2")})
	require.NoError(t, err)

	got, err := r.Query(ctx, "u1", "what did we discuss about the environment", 5, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, rec := range got {
		assert.GreaterOrEqual(t, float64(rec.Similarity), 0.7)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Similarity, rec.Similarity)
		}
	}
	// equal similarity resolves to the newer record first
	assert.Equal(t, newest.ID, got[0].ID)
	assert.Equal(t, core.String("c2"), got[0].Metadata["conversation_id"])
}

func TestSemanticRetriever_TopK(t *testing.T) {
	r := newRetriever(t)
	ctx := context.Background()
	for _, text := range []string{"oven temperature", "baking soda", "bread flour", "recipe ideas"} {
		_, err := r.Index(ctx, "u1", text, nil)
		require.NoError(t, err)
	}

	got, err := r.Query(ctx, "u1", "bread recipe", 2, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "recipe ideas", got[0].Content)
	assert.Equal(t, "bread flour", got[1].Content)

	none, err := r.Query(ctx, "u1", "bread recipe", 0, 0.7)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSemanticRetriever_ScopedByUser(t *testing.T) {
	r := newRetriever(t)
	ctx := context.Background()

	_, err := r.Index(ctx, "alice", "climate change worries", nil)
	require.NoError(t, err)

	got, err := r.Query(ctx, "bob", "climate", 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSemanticRetriever_NoSignal(t *testing.T) {
	r := newRetriever(t)
	ctx := context.Background()

	_, err := r.Index(ctx, "u1", "hello there", nil)
	assert.ErrorIs(t, err, ErrNoSignal)

	_, err = r.Index(ctx, "u1", "climate", nil)
	require.NoError(t, err)

	got, err := r.Query(ctx, "u1", "hello there", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSemanticRetriever_EmptyHistory(t *testing.T) {
	got, err := newRetriever(t).Query(context.Background(), "new-user", "climate", 5, 0.7)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

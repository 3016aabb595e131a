package vector

import (
	"context"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, vec []float32, at time.Time) core.SemanticRecord {
	return core.SemanticRecord{
		ID:        id,
		Content:   "content " + id,
		Embedding: vec,
		CreatedAt: at,
		Metadata: map[string]core.Value{
			"role":            core.String(core.RoleUser),
			"conversation_id": core.String("c1"),
			"seq":             core.Number(3),
		},
	}
}

func TestChromemIndex_QueryEmptyCollection(t *testing.T) {
	idx := NewMemoryIndex()

	got, err := idx.Query(context.Background(), "u1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChromemIndex_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, "u1", record("a", []float32{1, 0, 0}, at)))
	require.NoError(t, idx.Upsert(ctx, "u1", record("b", []float32{0, 1, 0}, at)))
	require.NoError(t, idx.Upsert(ctx, "u1", record("c", []float32{0.9, 0.1, 0}, at)))

	got, err := idx.Query(ctx, "u1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "topK is clamped to collection size")

	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
	assert.True(t, at.Equal(got[0].CreatedAt))
	assert.True(t, got[0].Metadata["seq"].Equal(core.Number(3)))
	assert.True(t, got[0].Metadata["role"].Equal(core.String(core.RoleUser)))
	assert.NotContains(t, got[0].Metadata, metaCreatedAt)
}

func TestChromemIndex_UserIsolation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "u1", record("a", []float32{1, 0}, time.Now())))

	got, err := idx.Query(ctx, "u2", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, idx.Count("u1"))
	assert.Equal(t, 0, idx.Count("u2"))
}

func TestChromemIndex_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "u1", record("a", []float32{1, 0}, time.Now())))
	require.NoError(t, idx.Upsert(ctx, "u1", record("a", []float32{0, 1}, time.Now())))
	assert.Equal(t, 1, idx.Count("u1"))
}

func TestChromemIndex_RejectsMissingEmbedding(t *testing.T) {
	err := NewMemoryIndex().Upsert(context.Background(), "u1", core.SemanticRecord{ID: "x"})
	assert.Error(t, err)
}

func TestChromemIndex_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := NewPersistentIndex(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "u1", record("a", []float32{1, 0}, time.Now())))

	reopened, err := NewPersistentIndex(dir)
	require.NoError(t, err)
	got, err := reopened.Query(ctx, "u1", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "content a", got[0].Content)
}

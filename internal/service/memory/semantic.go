package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/pkg/log"
)

// ErrNoSignal is returned when text embeds to a zero vector and cannot be compared.
var ErrNoSignal = errors.New("text carries no semantic signal")

// SemanticRetriever embeds turns into a per-user vector index and searches it.
type SemanticRetriever struct {
	index    core.VectorIndex
	embedder core.Embedder
	timeout  time.Duration
	now      func() time.Time
}

func NewSemanticRetriever(index core.VectorIndex, embedder core.Embedder, timeout time.Duration) *SemanticRetriever {
	return &SemanticRetriever{
		index:    index,
		embedder: embedder,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (r *SemanticRetriever) Index(ctx context.Context, userID, content string, metadata map[string]core.Value) (core.SemanticRecord, error) {
	vec, err := r.embed(ctx, content)
	if err != nil {
		return core.SemanticRecord{}, err
	}

	if metadata == nil {
		metadata = map[string]core.Value{}
	}
	rec := core.SemanticRecord{
		ID:        uuid.NewString(),
		Content:   content,
		Metadata:  metadata,
		Embedding: vec,
		CreatedAt: r.now().UTC(),
	}
	if err := r.index.Upsert(ctx, userID, rec); err != nil {
		return core.SemanticRecord{}, fmt.Errorf("index upsert: %w", err)
	}
	return rec, nil
}

// Query returns at most topK records scoped to userID with similarity >= threshold,
// most similar first and newer first among equals.
func (r *SemanticRetriever) Query(ctx context.Context, userID, text string, topK int, threshold float64) ([]core.ScoredRecord, error) {
	if topK <= 0 {
		return []core.ScoredRecord{}, nil
	}

	vec, err := r.embed(ctx, text)
	if errors.Is(err, ErrNoSignal) {
		return []core.ScoredRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	// over-fetch so ties at the cut are decided by recency rather than index order
	candidates, err := r.index.Query(ctx, userID, vec, topK*2)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}

	out := make([]core.ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		if float64(c.Similarity) < threshold {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > topK {
		out = out[:topK]
	}

	log.FromCtx(ctx).Debug().
		Int("candidates", len(candidates)).
		Int("matches", len(out)).
		Float64("threshold", threshold).
		Msg("semantic query done")
	return out, nil
}

func (r *SemanticRetriever) embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vec, err := r.embedder.Embed(embedCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	for _, v := range vec {
		if v != 0 {
			return vec, nil
		}
	}
	return nil, ErrNoSignal
}

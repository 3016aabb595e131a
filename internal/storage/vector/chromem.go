package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/pkg/log"
)

const (
	metaCreatedAt  = "_created_at"
	metaKindPrefix = "_kind."
)

// ChromemIndex stores semantic records in chromem-go, one collection per user.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewMemoryIndex keeps everything in process memory.
func NewMemoryIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistentIndex stores collections as gob files under path.
func NewPersistentIndex(path string) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(userID string) string {
	return "user_" + userID
}

func (s *ChromemIndex) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	// nil embedding func: callers always supply vectors
	col, err := s.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func (s *ChromemIndex) Upsert(ctx context.Context, userID string, rec core.SemanticRecord) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %s has no embedding", rec.ID)
	}
	col, err := s.collection(userID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  encodeMetadata(rec),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	log.FromCtx(ctx).Debug().
		Str("user_id", userID).
		Str("record_id", rec.ID).
		Int("collection_size", col.Count()).
		Msg("semantic record indexed")
	return nil
}

// Query returns up to topK nearest records by cosine similarity. Empty collections yield no results.
func (s *ChromemIndex) Query(ctx context.Context, userID string, vec []float32, topK int) ([]core.ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem-go rejects nResults above the collection size
	n := min(topK, col.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]core.ScoredRecord, 0, len(results))
	for _, r := range results {
		rec, err := decodeRecord(r)
		if err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("record_id", r.ID).Msg("skipping undecodable record")
			continue
		}
		out = append(out, core.ScoredRecord{SemanticRecord: rec, Similarity: r.Similarity})
	}
	return out, nil
}

func (s *ChromemIndex) Count(userID string) int {
	col, err := s.collection(userID)
	if err != nil {
		return 0
	}
	return col.Count()
}

func encodeMetadata(rec core.SemanticRecord) map[string]string {
	meta := make(map[string]string, 2*len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		kind, raw := v.Encode()
		meta[k] = raw
		meta[metaKindPrefix+k] = string(kind)
	}
	meta[metaCreatedAt] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	return meta
}

func decodeRecord(r chromem.Result) (core.SemanticRecord, error) {
	rec := core.SemanticRecord{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: r.Embedding,
		Metadata:  make(map[string]core.Value),
	}

	if ts, ok := r.Metadata[metaCreatedAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return rec, fmt.Errorf("created_at: %w", err)
		}
		rec.CreatedAt = t
	}

	for k, raw := range r.Metadata {
		if strings.HasPrefix(k, "_") {
			continue
		}
		v, err := core.DecodeValue(core.ValueKind(r.Metadata[metaKindPrefix+k]), raw)
		if err != nil {
			return rec, fmt.Errorf("metadata %s: %w", k, err)
		}
		rec.Metadata[k] = v
	}
	return rec, nil
}

package memory

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.NewDB(context.Background(), sqlite.InMemory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// stepClock returns a time that advances by one second on every call.
func stepClock() func() time.Time {
	var (
		mu  sync.Mutex
		cur = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

// topicEmbedder maps texts onto one axis per topic, so texts sharing a topic
// compare at similarity 1 and unrelated texts at 0.
type topicEmbedder struct {
	topics [][]string
}

func newTopicEmbedder() *topicEmbedder {
	return &topicEmbedder{topics: [][]string{
		{"climate", "environment", "emissions", "warming"},
		{"bread", "recipe", "baking", "oven"},
		{"golang", "compiler", "goroutine"},
	}}
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.topics))
	for i, words := range e.topics {
		for _, w := range words {
			if strings.Contains(lower, w) {
				vec[i] = 1
				break
			}
		}
	}
	return vec, nil
}

type scriptedSummarizer struct {
	mu     sync.Mutex
	calls  []string
	result string
	err    error
}

func (s *scriptedSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	return s.result, s.err
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProfiles fails reads while down is set.
type flakyProfiles struct {
	*sqlite.ProfilesRepo
	down atomic.Bool
}

func (f *flakyProfiles) LoadProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	if f.down.Load() {
		return core.UserProfile{}, errors.New("database is locked")
	}
	return f.ProfilesRepo.LoadProfile(ctx, userID)
}

func newProfileStore(t *testing.T, extractor core.FactExtractor) (*ProfileStore, *flakyProfiles) {
	t.Helper()
	repo := &flakyProfiles{ProfilesRepo: sqlite.NewProfilesRepo(newTestDB(t))}
	s, err := NewProfileStore(context.Background(), repo, extractor, time.Second)
	require.NoError(t, err)
	s.now = stepClock()
	t.Cleanup(s.Close)
	return s, repo
}

func TestProfileStore_ExtractAndMerge(t *testing.T) {
	s, _ := newProfileStore(t, NewPatternExtractor())
	ctx := context.Background()

	keys, err := s.ExtractAndMerge(ctx, "alice", "My name is Alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"context.name"}, keys)

	p, err := s.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.String("Alice"), p.Context["name"])
	assert.False(t, p.LastUpdated.IsZero())

	other, err := s.Snapshot(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, other.Len())
}

func TestProfileStore_MergeIsIdempotent(t *testing.T) {
	s, _ := newProfileStore(t, nil)
	ctx := context.Background()
	facts := []core.Fact{
		{Category: core.CategoryPreferences, Key: "response_length", Value: core.String("short")},
		{Category: core.CategoryContext, Key: "age", Value: core.Number(33)},
	}

	keys, err := s.Merge(ctx, "u1", facts)
	require.NoError(t, err)
	assert.Equal(t, []string{"context.age", "preferences.response_length"}, keys)
	once, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)

	keys, err = s.Merge(ctx, "u1", facts)
	require.NoError(t, err)
	assert.Empty(t, keys)
	twice, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, once.Preferences, twice.Preferences)
	assert.Equal(t, once.Context, twice.Context)
	assert.True(t, once.LastUpdated.Equal(twice.LastUpdated))
}

func TestProfileStore_LastWriteWins(t *testing.T) {
	s, _ := newProfileStore(t, nil)
	ctx := context.Background()

	_, err := s.Merge(ctx, "u1", []core.Fact{{Category: core.CategoryContext, Key: "location", Value: core.String("Berlin")}})
	require.NoError(t, err)
	keys, err := s.Merge(ctx, "u1", []core.Fact{
		{Category: core.CategoryContext, Key: "location", Value: core.String("Paris")},
		{Category: core.CategoryContext, Key: "location", Value: core.String("Lisbon")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"context.location"}, keys)

	p, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, p.Context, 1)
	assert.Equal(t, core.String("Lisbon"), p.Context["location"])
}

func TestProfileStore_BatchSettlesOnStoredValue(t *testing.T) {
	s, _ := newProfileStore(t, nil)
	ctx := context.Background()

	_, err := s.Merge(ctx, "u1", []core.Fact{{Category: core.CategoryContext, Key: "location", Value: core.String("Berlin")}})
	require.NoError(t, err)
	keys, err := s.Merge(ctx, "u1", []core.Fact{
		{Category: core.CategoryContext, Key: "location", Value: core.String("Paris")},
		{Category: core.CategoryContext, Key: "location", Value: core.String("Berlin")},
	})
	require.NoError(t, err)
	assert.Empty(t, keys)

	p, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.String("Berlin"), p.Context["location"])
}

func TestProfileStore_LaterStatementWins(t *testing.T) {
	s, _ := newProfileStore(t, NewPatternExtractor())
	ctx := context.Background()

	keys, err := s.ExtractAndMerge(ctx, "u1", "Call me Bob. Actually my name is Alice.")
	require.NoError(t, err)
	assert.Equal(t, []string{"context.name"}, keys)

	p, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.String("Alice"), p.Context["name"])
}

func TestProfileStore_DropsMalformedFacts(t *testing.T) {
	s, _ := newProfileStore(t, nil)

	keys, err := s.Merge(context.Background(), "u1", []core.Fact{
		{Category: "mood", Key: "k", Value: core.String("v")},
		{Category: core.CategoryContext, Key: "  ", Value: core.String("v")},
		{Category: core.CategoryContext, Key: "empty"},
	})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestProfileStore_ConcurrentMerges(t *testing.T) {
	s, _ := newProfileStore(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Merge(ctx, "u1", []core.Fact{
				{Category: core.CategoryBehaviorPatterns, Key: fmt.Sprintf("k%d", i%5), Value: core.Number(float64(i))},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, p.BehaviorPatterns, 5)
}

func TestProfileStore_SequenceResumesFromRepository(t *testing.T) {
	db := newTestDB(t)
	repo := sqlite.NewProfilesRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.UpsertFacts(ctx, "u1", []core.Fact{
		{Category: core.CategoryContext, Key: "name", Value: core.String("Old")},
	}, 41, time.Now()))

	s, err := NewProfileStore(ctx, repo, nil, time.Second)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Merge(ctx, "u1", []core.Fact{{Category: core.CategoryContext, Key: "name", Value: core.String("New")}})
	require.NoError(t, err)

	seq, err := repo.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	p, err := s.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.String("New"), p.Context["name"])
}

func TestProfileStore_SnapshotFallsBackToLastKnown(t *testing.T) {
	s, repo := newProfileStore(t, nil)
	ctx := context.Background()

	_, err := s.Merge(ctx, "u1", []core.Fact{{Category: core.CategoryContext, Key: "name", Value: core.String("Alice")}})
	require.NoError(t, err)

	repo.down.Store(true)
	p, err := s.Snapshot(ctx, "u1")
	require.Error(t, err)
	assert.Equal(t, core.String("Alice"), p.Context["name"])

	unknown, err := s.Snapshot(ctx, "ghost")
	require.Error(t, err)
	assert.Equal(t, "ghost", unknown.UserID)
	assert.Zero(t, unknown.Len())
}

type failingExtractor struct{}

func (failingExtractor) Extract(ctx context.Context, text string) ([]core.Fact, error) {
	return nil, errors.New("extractor offline")
}

func TestProfileStore_ExtractorFailure(t *testing.T) {
	s, _ := newProfileStore(t, failingExtractor{})
	_, err := s.ExtractAndMerge(context.Background(), "u1", "My name is Alice")
	assert.Error(t, err)
}

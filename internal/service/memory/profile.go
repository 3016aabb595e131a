package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/pkg/log"
)

const profileCacheSize = 10_000

// ProfileStore keeps durable per-user facts. Writes for one user are serialized and
// stamped with a process-wide monotonic sequence, so the last committed write wins.
type ProfileStore struct {
	repo      core.ProfileRepository
	extractor core.FactExtractor
	timeout   time.Duration

	// last known snapshot per user, served when the repository is unavailable
	cache *ristretto.Cache
	locks *keyedMutex
	seq   atomic.Int64
	now   func() time.Time
}

func NewProfileStore(ctx context.Context, repo core.ProfileRepository, extractor core.FactExtractor, timeout time.Duration) (*ProfileStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        profileCacheSize * 10,
		MaxCost:            profileCacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}

	seq, err := repo.MaxSeq(ctx)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("read profile sequence: %w", err)
	}

	s := &ProfileStore{
		repo:      repo,
		extractor: extractor,
		timeout:   timeout,
		cache:     cache,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
	s.seq.Store(seq)
	return s, nil
}

func (s *ProfileStore) Close() {
	s.cache.Close()
}

// Snapshot returns the stored profile. On repository failure it returns the last
// known profile together with the error.
func (s *ProfileStore) Snapshot(ctx context.Context, userID string) (core.UserProfile, error) {
	p, err := s.repo.LoadProfile(ctx, userID)
	if err != nil {
		return s.lastKnown(userID), fmt.Errorf("load profile: %w", err)
	}
	s.remember(p)
	return p, nil
}

// ExtractAndMerge runs fact extraction over text and merges the result.
// It returns the sorted "category.key" names whose value changed.
func (s *ProfileStore) ExtractAndMerge(ctx context.Context, userID, text string) ([]string, error) {
	if s.extractor == nil {
		return nil, nil
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.timeoutOrDefault())
	facts, err := s.extractor.Extract(extractCtx, text)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	return s.Merge(ctx, userID, facts)
}

// Merge upserts facts last-write-wins per key. Facts equal to the stored value are
// skipped, so merging the same facts twice leaves the profile untouched.
func (s *ProfileStore) Merge(ctx context.Context, userID string, facts []core.Fact) ([]string, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	current, err := s.repo.LoadProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	// later facts in one batch override earlier ones
	var (
		latest = map[string]core.Fact{}
		order  []string
	)
	for _, f := range facts {
		f.Key = strings.TrimSpace(f.Key)
		if !f.Category.Valid() || f.Key == "" || f.Value.IsZero() {
			log.FromCtx(ctx).Debug().Str("category", string(f.Category)).Str("key", f.Key).Msg("dropping malformed fact")
			continue
		}
		name := string(f.Category) + "." + f.Key
		if _, dup := latest[name]; !dup {
			order = append(order, name)
		}
		latest[name] = f
	}

	var (
		changed []core.Fact
		keys    []string
	)
	for _, name := range order {
		f := latest[name]
		if old, ok := current.Section(f.Category)[f.Key]; ok && old.Equal(f.Value) {
			continue
		}
		changed = append(changed, f)
		keys = append(keys, name)
	}

	if len(changed) == 0 {
		s.remember(current)
		return []string{}, nil
	}

	at := s.now().UTC()
	seq := s.seq.Add(1)
	if err := s.repo.UpsertFacts(ctx, userID, changed, seq, at); err != nil {
		return nil, fmt.Errorf("upsert facts: %w", err)
	}

	for _, f := range changed {
		current.Section(f.Category)[f.Key] = f.Value
	}
	current.LastUpdated = at
	s.remember(current)

	sort.Strings(keys)
	log.FromCtx(ctx).Info().
		Str("user_id", userID).
		Strs("updated_keys", keys).
		Int64("seq", seq).
		Msg("profile updated")
	return keys, nil
}

func (s *ProfileStore) remember(p core.UserProfile) {
	s.cache.Set(p.UserID, p.Clone(), 1)
	s.cache.Wait()
}

func (s *ProfileStore) lastKnown(userID string) core.UserProfile {
	if v, ok := s.cache.Get(userID); ok {
		if p, ok := v.(core.UserProfile); ok {
			return p.Clone()
		}
	}
	return core.NewUserProfile(userID)
}

func (s *ProfileStore) timeoutOrDefault() time.Duration {
	if s.timeout <= 0 {
		return 15 * time.Second
	}
	return s.timeout
}

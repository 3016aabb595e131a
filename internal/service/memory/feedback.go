package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/pkg/log"
)

const triggerExcerptChars = 120

// FeedbackStore records explicit corrections. Corrections are additive: nothing is
// merged or deleted, all of them stay active constraints.
type FeedbackStore struct {
	repo    core.CorrectionRepository
	markers []string
	// maxAge hides older corrections at read time; zero keeps them forever
	maxAge time.Duration
	now    func() time.Time
}

func NewFeedbackStore(repo core.CorrectionRepository, markers []string, maxAge time.Duration) *FeedbackStore {
	normalized := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			normalized = append(normalized, m)
		}
	}
	return &FeedbackStore{
		repo:    repo,
		markers: normalized,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Detect reports the correction payload when text starts with a marker.
func (s *FeedbackStore) Detect(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, m := range s.markers {
		if len(trimmed) >= len(m) && strings.EqualFold(trimmed[:len(m)], m) {
			payload := strings.TrimSpace(trimmed[len(m):])
			return payload, payload != ""
		}
	}
	return "", false
}

// DetectAndStore stores a correction when text carries a marker and returns nil otherwise.
func (s *FeedbackStore) DetectAndStore(ctx context.Context, userID, conversationID, text string) (*core.Correction, error) {
	payload, ok := s.Detect(text)
	if !ok {
		return nil, nil
	}

	c := core.Correction{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		TriggerExcerpt: clip(strings.TrimSpace(text), triggerExcerptChars),
		CorrectionText: payload,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.AddCorrection(ctx, c); err != nil {
		return nil, fmt.Errorf("store correction: %w", err)
	}

	log.FromCtx(ctx).Info().
		Str("user_id", userID).
		Str("correction_id", c.ID).
		Msg("correction captured")
	return &c, nil
}

// ActiveCorrections returns the user's corrections oldest first.
func (s *FeedbackStore) ActiveCorrections(ctx context.Context, userID string) ([]core.Correction, error) {
	all, err := s.repo.ListCorrections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	if s.maxAge <= 0 {
		if all == nil {
			all = []core.Correction{}
		}
		return all, nil
	}

	cutoff := s.now().Add(-s.maxAge)
	active := make([]core.Correction, 0, len(all))
	for _, c := range all {
		if c.CreatedAt.After(cutoff) {
			active = append(active, c)
		}
	}
	return active, nil
}

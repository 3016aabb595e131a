package core

import (
	"context"
	"time"
)

type ConversationRepository interface {
	// LoadBuffer returns found=false for unknown conversations.
	LoadBuffer(ctx context.Context, conversationID string) (ConversationBuffer, bool, error)
	SaveBuffer(ctx context.Context, userID string, buf ConversationBuffer) error
}

type ProfileRepository interface {
	LoadProfile(ctx context.Context, userID string) (UserProfile, error)
	// UpsertFacts writes facts unless a stored fact carries a higher seq.
	UpsertFacts(ctx context.Context, userID string, facts []Fact, seq int64, at time.Time) error
	MaxSeq(ctx context.Context) (int64, error)
}

type CorrectionRepository interface {
	AddCorrection(ctx context.Context, c Correction) error
	// ListCorrections returns corrections oldest first.
	ListCorrections(ctx context.Context, userID string) ([]Correction, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, userID string, rec SemanticRecord) error
	Query(ctx context.Context, userID string, vector []float32, topK int) ([]ScoredRecord, error)
}

type TraceRepository interface {
	SaveTrace(ctx context.Context, userID, conversationID string, trace *ObservabilityTrace) error
	GetTrace(ctx context.Context, requestID string) (*ObservabilityTrace, error)
}

package core

import (
	"time"
)

const (
	AppName      = "Recall"
	AppUserAgent = "Recall-Memory/0.1"
	AppVersion   = "0.1.0"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message of a conversation. Only IncludedInPrompt changes after creation.
type Turn struct {
	ID               string    `json:"id"`
	Seq              int64     `json:"-"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	TokenCount       int       `json:"tokens"`
	CreatedAt        time.Time `json:"timestamp"`
	IncludedInPrompt bool      `json:"includedInPrompt"`
}

// Summary is the rolling compaction of turns evicted from the live buffer.
type Summary struct {
	Text              string `json:"text"`
	MessageRangeStart int64  `json:"message_range_start"`
	MessageRangeEnd   int64  `json:"message_range_end"`

	// FoldedTurns counts every turn ever folded into Text.
	FoldedTurns int `json:"-"`
	// PendingTokens counts folded tokens not yet passed through the summarizer.
	PendingTokens int `json:"-"`
}

func (s *Summary) IsEmpty() bool {
	return s == nil || s.Text == ""
}

type ConversationBuffer struct {
	ConversationID string   `json:"-"`
	// UserID is the owner; empty until the conversation is first stored.
	UserID         string   `json:"-"`
	Turns          []Turn   `json:"messages"`
	Summary        *Summary `json:"summary"`
	TotalTurns     int64    `json:"total_turns"`
}

// Clone returns a deep copy so callers can mark inclusion flags without touching stored state.
func (b ConversationBuffer) Clone() ConversationBuffer {
	out := ConversationBuffer{
		ConversationID: b.ConversationID,
		UserID:         b.UserID,
		TotalTurns:     b.TotalTurns,
		Turns:          make([]Turn, len(b.Turns)),
	}
	copy(out.Turns, b.Turns)
	if b.Summary != nil {
		s := *b.Summary
		out.Summary = &s
	}
	return out
}

type Category string

const (
	CategoryPreferences      Category = "preferences"
	CategoryBehaviorPatterns Category = "behavior_patterns"
	CategoryContext          Category = "context"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPreferences, CategoryBehaviorPatterns, CategoryContext:
		return true
	}
	return false
}

type UserProfile struct {
	UserID           string           `json:"-"`
	Preferences      map[string]Value `json:"preferences"`
	BehaviorPatterns map[string]Value `json:"behavior_patterns"`
	Context          map[string]Value `json:"context"`
	LastUpdated      time.Time        `json:"last_updated"`
}

func NewUserProfile(userID string) UserProfile {
	return UserProfile{
		UserID:           userID,
		Preferences:      map[string]Value{},
		BehaviorPatterns: map[string]Value{},
		Context:          map[string]Value{},
	}
}

// Section returns the map backing a category, or nil for unknown categories.
func (p *UserProfile) Section(c Category) map[string]Value {
	switch c {
	case CategoryPreferences:
		return p.Preferences
	case CategoryBehaviorPatterns:
		return p.BehaviorPatterns
	case CategoryContext:
		return p.Context
	}
	return nil
}

func (p *UserProfile) Len() int {
	return len(p.Preferences) + len(p.BehaviorPatterns) + len(p.Context)
}

func (p UserProfile) Clone() UserProfile {
	out := NewUserProfile(p.UserID)
	out.LastUpdated = p.LastUpdated
	for k, v := range p.Preferences {
		out.Preferences[k] = v
	}
	for k, v := range p.BehaviorPatterns {
		out.BehaviorPatterns[k] = v
	}
	for k, v := range p.Context {
		out.Context[k] = v
	}
	return out
}

// Fact is a single extracted key/value candidate.
type Fact struct {
	Category Category `json:"category"`
	Key      string   `json:"key"`
	Value    Value    `json:"value"`
}

type SemanticRecord struct {
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	Metadata  map[string]Value `json:"metadata"`
	Embedding []float32        `json:"-"`
	CreatedAt time.Time        `json:"created_at"`
}

type ScoredRecord struct {
	SemanticRecord
	Similarity float32 `json:"similarity_score"`
}

type Correction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	ConversationID string    `json:"-"`
	TriggerExcerpt string    `json:"trigger_excerpt"`
	CorrectionText string    `json:"correction_text"`
	CreatedAt      time.Time `json:"created_at"`
}

type TokenUsage struct {
	Total             int            `json:"total"`
	EstimatedResponse int            `json:"estimated_response"`
	Cost              float64        `json:"cost"`
	Breakdown         map[string]int `json:"breakdown"`
}

type TraceStep struct {
	Name      string  `json:"name"`
	LatencyMs float64 `json:"latency_ms"`
}

type RequestTrace struct {
	Steps          []TraceStep `json:"steps"`
	TotalLatencyMs float64     `json:"total_latency_ms"`
}

type LongTermView struct {
	Preferences      map[string]Value `json:"preferences"`
	BehaviorPatterns map[string]Value `json:"behavior_patterns"`
	Context          map[string]Value `json:"context"`
	LastUpdated      *time.Time       `json:"last_updated"`
	UpdatedKeys      []string         `json:"updated_keys"`
}

type SemanticView struct {
	RelevantMemories []ScoredRecord `json:"relevant_memories"`
}

type FeedbackView struct {
	Corrections []Correction `json:"corrections"`
}

// ObservabilityTrace is the audit payload returned with every handled turn.
type ObservabilityTrace struct {
	RequestID      string             `json:"request_id"`
	ShortTerm      ConversationBuffer `json:"short_term_memory"`
	LongTerm       LongTermView       `json:"long_term_memory"`
	Semantic       SemanticView       `json:"semantic_memory"`
	Feedback       FeedbackView       `json:"feedback_memory"`
	TokenUsage     TokenUsage         `json:"token_usage"`
	RequestTrace   RequestTrace       `json:"request_trace"`
	State          string             `json:"state"`
	Degraded       []string           `json:"degraded,omitempty"`
	PartialSuccess bool               `json:"partial_success"`
	Error          string             `json:"error,omitempty"`
}

// NewObservabilityTrace returns a trace whose collections serialize as empty rather than null.
func NewObservabilityTrace(requestID string) *ObservabilityTrace {
	return &ObservabilityTrace{
		RequestID: requestID,
		ShortTerm: ConversationBuffer{Turns: []Turn{}},
		LongTerm: LongTermView{
			Preferences:      map[string]Value{},
			BehaviorPatterns: map[string]Value{},
			Context:          map[string]Value{},
			UpdatedKeys:      []string{},
		},
		Semantic:     SemanticView{RelevantMemories: []ScoredRecord{}},
		Feedback:     FeedbackView{Corrections: []Correction{}},
		TokenUsage:   TokenUsage{Breakdown: map[string]int{}},
		RequestTrace: RequestTrace{Steps: []TraceStep{}},
	}
}

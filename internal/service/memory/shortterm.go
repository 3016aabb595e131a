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

// naive folds keep at most this many characters of each evicted turn
const foldedTurnChars = 280

type ShortTermConfig struct {
	MaxTurns           int
	SummarizeThreshold int
	SummaryMaxTokens   int
	Timeout            time.Duration
	Model              string
}

// ShortTermStore owns the rolling window of every conversation.
type ShortTermStore struct {
	repo       core.ConversationRepository
	counter    *TokenCounter
	summarizer core.Summarizer
	cfg        ShortTermConfig
	locks      *keyedMutex
	now        func() time.Time
}

// NewShortTermStore accepts a nil summarizer, in which case folds are always naive joins.
func NewShortTermStore(repo core.ConversationRepository, counter *TokenCounter, summarizer core.Summarizer, cfg ShortTermConfig) *ShortTermStore {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	return &ShortTermStore{
		repo:       repo,
		counter:    counter,
		summarizer: summarizer,
		cfg:        cfg,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
}

// NewTurn builds an immutable turn with a fresh id and its token count.
func (s *ShortTermStore) NewTurn(role, content string) core.Turn {
	return core.Turn{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		TokenCount: s.counter.Count(content, s.cfg.Model),
		CreatedAt:  s.now().UTC(),
	}
}

// Window returns the live buffer and summary. Unknown conversations yield an empty
// buffer with no owner.
func (s *ShortTermStore) Window(ctx context.Context, conversationID string) (core.ConversationBuffer, error) {
	buf, _, err := s.repo.LoadBuffer(ctx, conversationID)
	if err != nil {
		return core.ConversationBuffer{ConversationID: conversationID, Turns: []core.Turn{}}, err
	}
	if buf.Turns == nil {
		buf.Turns = []core.Turn{}
	}
	return buf, nil
}

// Append adds turns in order and folds the oldest ones into the summary
// whenever the buffer grows past MaxTurns.
func (s *ShortTermStore) Append(ctx context.Context, userID, conversationID string, turns ...core.Turn) (core.ConversationBuffer, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	buf, found, err := s.repo.LoadBuffer(ctx, conversationID)
	if err != nil {
		return buf, fmt.Errorf("load buffer: %w", err)
	}
	if found && buf.UserID != userID {
		return buf, &core.ValidationError{Field: "conversation_id", Reason: "belongs to another user"}
	}
	buf.ConversationID = conversationID
	buf.UserID = userID

	for _, t := range turns {
		buf.TotalTurns++
		t.Seq = buf.TotalTurns
		buf.Turns = append(buf.Turns, t)
	}

	if overflow := len(buf.Turns) - s.cfg.MaxTurns; overflow > 0 {
		evicted := buf.Turns[:overflow]
		buf.Summary = s.fold(ctx, buf.Summary, evicted)
		buf.Turns = append([]core.Turn(nil), buf.Turns[overflow:]...)
	}

	if err := s.repo.SaveBuffer(ctx, userID, buf); err != nil {
		return buf, fmt.Errorf("save buffer: %w", err)
	}
	return buf, nil
}

// MarkIncluded records which live turns made it into the last assembled prompt.
func (s *ShortTermStore) MarkIncluded(ctx context.Context, userID, conversationID string, included map[string]bool) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	buf, found, err := s.repo.LoadBuffer(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load buffer: %w", err)
	}
	if !found {
		return nil
	}

	changed := false
	for i := range buf.Turns {
		flag := included[buf.Turns[i].ID]
		if buf.Turns[i].IncludedInPrompt != flag {
			buf.Turns[i].IncludedInPrompt = flag
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.repo.SaveBuffer(ctx, userID, buf); err != nil {
		return fmt.Errorf("save buffer: %w", err)
	}
	return nil
}

// fold appends evicted turns to the summary. The summarizer compacts the text once
// enough unsummarized tokens pile up or the summary outgrows its cap; failures
// fall back to the naive join. The result is finally capped by keeping its tail.
func (s *ShortTermStore) fold(ctx context.Context, prev *core.Summary, evicted []core.Turn) *core.Summary {
	next := &core.Summary{}
	if prev != nil {
		*next = *prev
	}
	if next.FoldedTurns == 0 || next.MessageRangeStart == 0 {
		next.MessageRangeStart = evicted[0].Seq
	}
	next.MessageRangeEnd = evicted[len(evicted)-1].Seq
	next.FoldedTurns += len(evicted)

	lines := make([]string, 0, len(evicted)+1)
	if next.Text != "" {
		lines = append(lines, next.Text)
	}
	for _, t := range evicted {
		lines = append(lines, t.Role+": "+clip(t.Content, foldedTurnChars))
		next.PendingTokens += t.TokenCount
	}
	next.Text = strings.Join(lines, "\n")

	logger := log.FromCtx(ctx)
	size := s.counter.Count(next.Text, s.cfg.Model)
	overCap := s.cfg.SummaryMaxTokens > 0 && size > s.cfg.SummaryMaxTokens

	if s.summarizer != nil && (next.PendingTokens >= s.cfg.SummarizeThreshold || overCap) {
		sumCtx, cancel := s.withTimeout(ctx)
		text, err := s.summarizer.Summarize(sumCtx, next.Text)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("summarization failed, keeping naive fold")
		} else {
			next.Text = text
			next.PendingTokens = 0
			size = s.counter.Count(next.Text, s.cfg.Model)
		}
	}

	if s.cfg.SummaryMaxTokens > 0 && size > s.cfg.SummaryMaxTokens {
		next.Text = s.counter.TruncateHead(next.Text, s.cfg.Model, s.cfg.SummaryMaxTokens)
	}

	logger.Debug().
		Int("folded", len(evicted)).
		Int("summary_tokens", size).
		Int64("range_end", next.MessageRangeEnd).
		Msg("turns folded into summary")
	return next
}

func (s *ShortTermStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/pkg/log"
)

type ConversationsRepo struct {
	db *sql.DB
}

func NewConversationsRepo(db *sql.DB) *ConversationsRepo {
	return &ConversationsRepo{db: db}
}

func (r *ConversationsRepo) LoadBuffer(ctx context.Context, conversationID string) (core.ConversationBuffer, bool, error) {
	buf := core.ConversationBuffer{ConversationID: conversationID}

	var summary core.Summary
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, summary_text, summary_start, summary_end, folded_turns, pending_tokens, total_turns
		FROM conversations WHERE id = ?`, conversationID,
	).Scan(&buf.UserID, &summary.Text, &summary.MessageRangeStart, &summary.MessageRangeEnd,
		&summary.FoldedTurns, &summary.PendingTokens, &buf.TotalTurns)
	if errors.Is(err, sql.ErrNoRows) {
		return buf, false, nil
	}
	if err != nil {
		return buf, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	if summary.Text != "" {
		buf.Summary = &summary
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seq, role, content, token_count, included_in_prompt, created_at
		FROM turns WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return buf, false, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t core.Turn
		if err := rows.Scan(&t.ID, &t.Seq, &t.Role, &t.Content, &t.TokenCount, &t.IncludedInPrompt, &t.CreatedAt); err != nil {
			return buf, false, fmt.Errorf("failed to scan turn: %w", err)
		}
		buf.Turns = append(buf.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return buf, false, err
	}

	log.FromCtx(ctx).Debug().
		Str("conversation_id", conversationID).
		Int("turns", len(buf.Turns)).
		Msg("loaded conversation buffer")
	return buf, true, nil
}

// SaveBuffer replaces the stored live window and summary of a conversation. A
// conversation stored under another user is left untouched and reported as a
// validation error.
func (r *ConversationsRepo) SaveBuffer(ctx context.Context, userID string, buf core.ConversationBuffer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var summary core.Summary
	if buf.Summary != nil {
		summary = *buf.Summary
	}
	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, summary_text, summary_start, summary_end, folded_turns, pending_tokens, total_turns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary_text = excluded.summary_text,
			summary_start = excluded.summary_start,
			summary_end = excluded.summary_end,
			folded_turns = excluded.folded_turns,
			pending_tokens = excluded.pending_tokens,
			total_turns = excluded.total_turns,
			updated_at = excluded.updated_at
		WHERE conversations.user_id = excluded.user_id`,
		buf.ConversationID, userID, summary.Text, summary.MessageRangeStart, summary.MessageRangeEnd,
		summary.FoldedTurns, summary.PendingTokens, buf.TotalTurns, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &core.ValidationError{Field: "conversation_id", Reason: "belongs to another user"}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, buf.ConversationID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns (id, conversation_id, seq, role, content, token_count, included_in_prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range buf.Turns {
		if _, err := stmt.ExecContext(ctx, t.ID, buf.ConversationID, t.Seq, t.Role, t.Content, t.TokenCount, t.IncludedInPrompt, t.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert turn %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

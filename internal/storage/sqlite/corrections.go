package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sandevgo/recall/internal/core"
)

type CorrectionsRepo struct {
	db *sql.DB
}

func NewCorrectionsRepo(db *sql.DB) *CorrectionsRepo {
	return &CorrectionsRepo{db: db}
}

func (r *CorrectionsRepo) AddCorrection(ctx context.Context, c core.Correction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO corrections (id, user_id, conversation_id, trigger_excerpt, correction_text, created_at, ord)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(ord), 0) + 1 FROM corrections))`,
		c.ID, c.UserID, c.ConversationID, c.TriggerExcerpt, c.CorrectionText, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert correction: %w", err)
	}
	return nil
}

func (r *CorrectionsRepo) ListCorrections(ctx context.Context, userID string) ([]core.Correction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, trigger_excerpt, correction_text, created_at
		FROM corrections WHERE user_id = ?
		ORDER BY created_at ASC, ord ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var out []core.Correction
	for rows.Next() {
		var c core.Correction
		if err := rows.Scan(&c.ID, &c.UserID, &c.ConversationID, &c.TriggerExcerpt, &c.CorrectionText, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

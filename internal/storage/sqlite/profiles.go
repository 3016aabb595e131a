package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sandevgo/recall/internal/core"
)

type ProfilesRepo struct {
	db *sql.DB
}

func NewProfilesRepo(db *sql.DB) *ProfilesRepo {
	return &ProfilesRepo{db: db}
}

func (r *ProfilesRepo) LoadProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	profile := core.NewUserProfile(userID)

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, key, kind, value, updated_at
		FROM profile_facts WHERE user_id = ?
		ORDER BY category, key`, userID)
	if err != nil {
		return profile, fmt.Errorf("failed to query profile: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category, key, kind, raw string
			updatedAt                time.Time
		)
		if err := rows.Scan(&category, &key, &kind, &raw, &updatedAt); err != nil {
			return profile, fmt.Errorf("failed to scan fact: %w", err)
		}
		value, err := core.DecodeValue(core.ValueKind(kind), raw)
		if err != nil {
			return profile, fmt.Errorf("fact %s.%s: %w", category, key, err)
		}
		section := profile.Section(core.Category(category))
		if section == nil {
			continue
		}
		section[key] = value
		if updatedAt.After(profile.LastUpdated) {
			profile.LastUpdated = updatedAt
		}
	}
	return profile, rows.Err()
}

// UpsertFacts applies last-write-wins per key: a fact only replaces a stored one with a lower or equal seq.
func (r *ProfilesRepo) UpsertFacts(ctx context.Context, userID string, facts []core.Fact, seq int64, at time.Time) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profile_facts (user_id, category, key, kind, value, seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, key) DO UPDATE SET
			kind = excluded.kind,
			value = excluded.value,
			seq = excluded.seq,
			updated_at = excluded.updated_at
		WHERE excluded.seq >= profile_facts.seq`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range facts {
		kind, raw := f.Value.Encode()
		if _, err := stmt.ExecContext(ctx, userID, string(f.Category), f.Key, string(kind), raw, seq, at.UTC()); err != nil {
			return fmt.Errorf("failed to upsert %s.%s: %w", f.Category, f.Key, err)
		}
	}

	return tx.Commit()
}

func (r *ProfilesRepo) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM profile_facts`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return seq.Int64, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/recall/internal/core"
)

var ErrTraceNotFound = errors.New("trace not found")

type TracesRepo struct {
	db *sql.DB
}

func NewTracesRepo(db *sql.DB) *TracesRepo {
	return &TracesRepo{db: db}
}

func (r *TracesRepo) SaveTrace(ctx context.Context, userID, conversationID string, trace *core.ObservabilityTrace) error {
	payload, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO request_traces (request_id, user_id, conversation_id, state, total_tokens, cost, total_latency_ms, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			state = excluded.state,
			total_tokens = excluded.total_tokens,
			cost = excluded.cost,
			total_latency_ms = excluded.total_latency_ms,
			payload = excluded.payload`,
		trace.RequestID, userID, conversationID, trace.State,
		trace.TokenUsage.Total, trace.TokenUsage.Cost, trace.RequestTrace.TotalLatencyMs,
		string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save trace: %w", err)
	}
	return nil
}

func (r *TracesRepo) GetTrace(ctx context.Context, requestID string) (*core.ObservabilityTrace, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM request_traces WHERE request_id = ?`, requestID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTraceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}

	var trace core.ObservabilityTrace
	if err := json.Unmarshal([]byte(payload), &trace); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}
	return &trace, nil
}

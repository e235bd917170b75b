package calllog

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo persists call events in the call_events table.
//
// Schema:
//
//	CREATE TABLE call_events (
//	    id          UUID PRIMARY KEY,
//	    merchant_id UUID NOT NULL,
//	    type        TEXT NOT NULL,
//	    call_sid    TEXT NOT NULL,
//	    stream_sid  TEXT,
//	    tool_name   TEXT,
//	    message     TEXT,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX call_events_merchant_created_idx
//	    ON call_events (merchant_id, created_at DESC);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO call_events (id, merchant_id, type, call_sid, stream_sid, tool_name, message, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`
	if _, err := r.db.ExecContext(ctx, q,
		e.ID, e.MerchantID, string(e.Type), e.CallSid, e.StreamSid, e.ToolName, e.Message, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("calllog: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]Event, error) {
	const q = `
		SELECT id, merchant_id, type, call_sid,
		       COALESCE(stream_sid, ''), COALESCE(tool_name, ''), COALESCE(message, ''), created_at
		FROM call_events
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.MerchantID, &typ, &e.CallSid, &e.StreamSid, &e.ToolName, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepo)(nil)
var _ Repository = (*MemoryRepo)(nil)

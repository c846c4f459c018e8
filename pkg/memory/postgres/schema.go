// Package postgres stores call transcripts in PostgreSQL.
//
// Calls live in the calls table and their turns in call_turns, ordered by
// insertion. [Migrate] creates both idempotently.
//
// Usage:
//
//	store, err := postgres.Connect(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.StartCall(ctx, memory.CallRecord{CallID: "CA123"})
//	_ = store.RecordTurn(ctx, "CA123", turn)
package postgres

import (
	"context"
	"fmt"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_id      TEXT         PRIMARY KEY,
    stream_id    TEXT         NOT NULL DEFAULT '',
    instance_id  TEXT         NOT NULL DEFAULT '',
    parameters   JSONB        NOT NULL DEFAULT '{}',
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ,
    duration_ms  BIGINT       NOT NULL DEFAULT 0,
    turn_count   INTEGER      NOT NULL DEFAULT 0,
    summary      TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at);
`

const ddlCallTurns = `
CREATE TABLE IF NOT EXISTS call_turns (
    id           BIGSERIAL    PRIMARY KEY,
    call_id      TEXT         NOT NULL REFERENCES calls (call_id) ON DELETE CASCADE,
    role         TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    interrupted  BOOLEAN      NOT NULL DEFAULT false,
    metadata     JSONB        NOT NULL DEFAULT '{}',
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_turns_call_id
    ON call_turns (call_id, id);
`

// Migrate creates the calls and call_turns tables if they do not exist. It
// is safe to call on every start.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range []string{ddlCalls, ddlCallTurns} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/telvoxa/pkg/memory"
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store is a [memory.TranscriptStore] backed by PostgreSQL. All methods are
// safe for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var (
	_ memory.TranscriptStore = (*Store)(nil)
	_ memory.Pinger          = (*Store)(nil)
)

// New returns a Store using db. The caller runs [Migrate] and owns db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool to dsn, verifies it and runs [Migrate]. Close the
// store to release the pool.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// Close releases the pool opened by [Connect]. It is a no-op for stores
// created with [New].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// StartCall implements [memory.TranscriptStore]. A repeated call id replaces
// the record's stream, instance and parameters and keeps earlier turns.
func (s *Store) StartCall(ctx context.Context, rec memory.CallRecord) error {
	params, err := marshalMap(rec.Parameters)
	if err != nil {
		return fmt.Errorf("postgres store: marshal parameters: %w", err)
	}
	const q = `
		INSERT INTO calls (call_id, stream_id, instance_id, parameters, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_id) DO UPDATE SET
		    stream_id   = EXCLUDED.stream_id,
		    instance_id = EXCLUDED.instance_id,
		    parameters  = EXCLUDED.parameters,
		    started_at  = EXCLUDED.started_at,
		    ended_at    = NULL`

	if _, err := s.db.Exec(ctx, q, rec.CallID, rec.StreamID, rec.InstanceID, params, orNow(rec.StartedAt)); err != nil {
		return fmt.Errorf("postgres store: start call: %w", err)
	}
	return nil
}

// RecordTurn implements [memory.TranscriptStore].
func (s *Store) RecordTurn(ctx context.Context, callID string, turn memory.TurnRecord) error {
	meta, err := marshalMap(turn.Metadata)
	if err != nil {
		return fmt.Errorf("postgres store: marshal metadata: %w", err)
	}
	const q = `
		INSERT INTO call_turns (call_id, role, content, interrupted, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.Exec(ctx, q, callID, turn.Role, turn.Content, turn.Interrupted, meta, orNow(turn.Timestamp)); err != nil {
		return fmt.Errorf("postgres store: record turn: %w", err)
	}
	return nil
}

// EndCall implements [memory.TranscriptStore].
func (s *Store) EndCall(ctx context.Context, callID string, sum memory.Summary) error {
	const q = `
		UPDATE calls
		SET    ended_at = $2, duration_ms = $3, turn_count = $4, summary = $5
		WHERE  call_id = $1`

	tag, err := s.db.Exec(ctx, q, callID, orNow(sum.EndedAt), sum.Duration.Milliseconds(), sum.TurnCount, sum.Text)
	if err != nil {
		return fmt.Errorf("postgres store: end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: end call %s: %w", callID, memory.ErrNotFound)
	}
	return nil
}

// Transcript implements [memory.TranscriptStore].
func (s *Store) Transcript(ctx context.Context, callID string) ([]memory.TurnRecord, error) {
	const q = `
		SELECT role, content, interrupted, metadata, timestamp
		FROM   call_turns
		WHERE  call_id = $1
		ORDER  BY id`

	rows, err := s.db.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: transcript: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	if len(turns) > 0 {
		return turns, nil
	}

	var one int
	err = s.db.QueryRow(ctx, `SELECT 1 FROM calls WHERE call_id = $1`, callID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: transcript %s: %w", callID, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: lookup call: %w", err)
	}
	return turns, nil
}

// collectTurns scans pgx rows into turn records.
func collectTurns(rows pgx.Rows) ([]memory.TurnRecord, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TurnRecord, error) {
		var (
			t    memory.TurnRecord
			meta []byte
		)
		if err := row.Scan(&t.Role, &t.Content, &t.Interrupted, &meta, &t.Timestamp); err != nil {
			return memory.TurnRecord{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return memory.TurnRecord{}, fmt.Errorf("decode metadata: %w", err)
			}
			if len(t.Metadata) == 0 {
				t.Metadata = nil
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.TurnRecord{}
	}
	return turns, nil
}

func marshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

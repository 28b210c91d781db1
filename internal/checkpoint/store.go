// Package checkpoint implements the §4.9 checkpoint store: a Postgres-backed
// event log plus derived snapshots, with optimistic concurrency on both.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/forgeflow/orchestrator/internal/models"
)

const (
	createSnapshotTableSQL = `
CREATE TABLE IF NOT EXISTS workflow_snapshot (
    workflow_id VARCHAR(64) PRIMARY KEY,
    status      VARCHAR(32) NOT NULL,
    json_state  JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    version     BIGINT NOT NULL
)`

	createEventTableSQL = `
CREATE TABLE IF NOT EXISTS workflow_event (
    workflow_id  VARCHAR(64) NOT NULL,
    seq          BIGINT NOT NULL,
    kind         VARCHAR(32) NOT NULL,
    payload_json JSONB NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (workflow_id, seq)
)`

	createAwaitingApprovalIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_workflow_snapshot_status
    ON workflow_snapshot(status) WHERE status = 'awaiting_approval'`
)

// Store is the SQL-backed checkpoint store. Every method is safe for
// concurrent use; append_events is the sole serialization point for a given
// workflow (§4.9).
type Store struct {
	db *sql.DB
}

// Open connects to dbURL (a Postgres connection string) and ensures the
// checkpoint schema exists.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open *sql.DB, used by tests that share a pool.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range []string{createSnapshotTableSQL, createEventTableSQL, createAwaitingApprovalIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init checkpoint schema: %w", err)
		}
	}
	return nil
}

// AppendEvents atomically appends events starting at expectedLastSeq+1,
// failing with a Conflict-kind error if expectedLastSeq has gone stale.
// This is the sole serialization point for a workflow (§4.9).
func (s *Store) AppendEvents(ctx context.Context, workflowID models.WorkflowId, expectedLastSeq int64, events []models.Event) (newLastSeq int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append_events tx: %w", err)
	}
	defer tx.Rollback()

	var actualLastSeq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM workflow_event WHERE workflow_id = $1`, string(workflowID),
	).Scan(&actualLastSeq)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}

	current := int64(0)
	if actualLastSeq.Valid {
		current = actualLastSeq.Int64
	}
	if current != expectedLastSeq {
		return 0, models.NewError(models.KindConflict,
			"append_events: expected_last_seq %d, actual %d", expectedLastSeq, current)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO workflow_event (workflow_id, seq, kind, payload_json, timestamp)
VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return 0, fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	seq := current
	for _, ev := range events {
		seq++
		if _, err := stmt.ExecContext(ctx, string(workflowID), seq, string(ev.Kind), ev.Payload, ev.Timestamp); err != nil {
			return 0, fmt.Errorf("insert event seq %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append_events tx: %w", err)
	}
	return seq, nil
}

// WriteSnapshot persists state with optimistic concurrency on version; a
// snapshot may lag the event log but must not be ahead of it (§4.9).
func (s *Store) WriteSnapshot(ctx context.Context, state models.WorkflowState, expectedVersion int64) (newVersion int64, err error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin write_snapshot tx: %w", err)
	}
	defer tx.Rollback()

	var currentVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM workflow_snapshot WHERE workflow_id = $1`, string(state.WorkflowID),
	).Scan(&currentVersion)
	switch {
	case err == sql.ErrNoRows:
		if expectedVersion != 0 {
			return 0, models.NewError(models.KindConflict,
				"write_snapshot: workflow %s has no prior snapshot, expected_version %d", state.WorkflowID, expectedVersion)
		}
	case err != nil:
		return 0, fmt.Errorf("read current version: %w", err)
	default:
		if currentVersion.Int64 != expectedVersion {
			return 0, models.NewError(models.KindConflict,
				"write_snapshot: expected_version %d, actual %d", expectedVersion, currentVersion.Int64)
		}
	}

	newVersion = expectedVersion + 1
	_, err = tx.ExecContext(ctx, `
INSERT INTO workflow_snapshot (workflow_id, status, json_state, updated_at, version)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (workflow_id) DO UPDATE SET
    status = EXCLUDED.status,
    json_state = EXCLUDED.json_state,
    updated_at = EXCLUDED.updated_at,
    version = EXCLUDED.version`,
		string(state.WorkflowID), string(state.Status), payload, time.Now().UTC(), newVersion)
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit write_snapshot tx: %w", err)
	}
	return newVersion, nil
}

// LoadSnapshot returns the persisted state for workflowID, or nil if none exists.
func (s *Store) LoadSnapshot(ctx context.Context, workflowID models.WorkflowId) (*models.WorkflowState, int64, error) {
	var payload []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT json_state, version FROM workflow_snapshot WHERE workflow_id = $1`, string(workflowID),
	).Scan(&payload, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load_snapshot: %w", err)
	}

	var state models.WorkflowState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return &state, version, nil
}

// ReadEvents returns events for workflowID in [fromSeq, toSeq], inclusive.
// A zero toSeq means "no upper bound".
func (s *Store) ReadEvents(ctx context.Context, workflowID models.WorkflowId, fromSeq, toSeq int64) ([]models.Event, error) {
	query := `
SELECT seq, kind, payload_json, timestamp
FROM workflow_event
WHERE workflow_id = $1 AND seq >= $2`
	args := []interface{}{string(workflowID), fromSeq}
	if toSeq > 0 {
		query += ` AND seq <= $3`
		args = append(args, toSeq)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read_events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var kind string
		if err := rows.Scan(&ev.Seq, &kind, &ev.Payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.WorkflowID = workflowID
		ev.Kind = models.EventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListAwaitingApproval returns workflow ids currently parked in
// awaiting_approval, used by the HITL polling fallback (§4.8 step 3b).
func (s *Store) ListAwaitingApproval(ctx context.Context) ([]models.WorkflowId, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id FROM workflow_snapshot WHERE status = $1`, string(models.StatusAwaitingApproval))
	if err != nil {
		return nil, fmt.Errorf("list_awaiting_approval: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow_id: %w", err)
		}
		out = append(out, models.WorkflowId(id))
	}
	return out, rows.Err()
}

package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeflow/orchestrator/internal/models"
)

// WorkflowSummary is one row of the admin CLI's list-workflows output: the
// snapshot table's indexable columns without the full json_state blob.
type WorkflowSummary struct {
	WorkflowID models.WorkflowId     `json:"workflow_id"`
	Status     models.WorkflowStatus `json:"status"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Version    int64                 `json:"version"`
}

// ListWorkflows returns a summary row per known workflow, most recently
// updated first.
func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]WorkflowSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT workflow_id, status, updated_at, version
FROM workflow_snapshot
ORDER BY updated_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowSummary
	for rows.Next() {
		var row WorkflowSummary
		var id, status string
		if err := rows.Scan(&id, &status, &row.UpdatedAt, &row.Version); err != nil {
			return nil, fmt.Errorf("scan workflow summary: %w", err)
		}
		row.WorkflowID = models.WorkflowId(id)
		row.Status = models.WorkflowStatus(status)
		out = append(out, row)
	}
	return out, rows.Err()
}

// GC deletes the events of terminal workflows older than the retention
// cutoff, then deletes the snapshots of terminal workflows that have no
// events left (§4.9 "Retention"); nothing is archived.
// Returns how many event rows and snapshot rows were removed.
func (s *Store) GC(ctx context.Context, olderThan time.Duration) (eventsRemoved, snapshotsRemoved int64, err error) {
	cutoff := time.Now().Add(-olderThan).UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin gc tx: %w", err)
	}
	defer tx.Rollback()

	// Only terminal workflows are eligible: an in-flight workflow's events
	// are its replay substrate, never garbage.
	res, err := tx.ExecContext(ctx, `
DELETE FROM workflow_event
WHERE timestamp < $1
  AND workflow_id IN (
    SELECT workflow_id FROM workflow_snapshot
    WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1
  )`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("gc events: %w", err)
	}
	eventsRemoved, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
DELETE FROM workflow_snapshot
WHERE status IN ('completed', 'failed', 'cancelled')
  AND updated_at < $1
  AND NOT EXISTS (
    SELECT 1 FROM workflow_event WHERE workflow_event.workflow_id = workflow_snapshot.workflow_id
  )`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("gc snapshots: %w", err)
	}
	snapshotsRemoved, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit gc tx: %w", err)
	}
	return eventsRemoved, snapshotsRemoved, nil
}

// Ping reports whether the backing database is reachable, for the front
// door's health endpoint (§4.1 "Health").
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

package activities

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/forgeflow/orchestrator/internal/checkpoint"
	"github.com/forgeflow/orchestrator/internal/models"
)

// CheckpointActivities wraps the checkpoint store's durable I/O so the
// interpreter loop never touches the database directly from workflow code
// (§4.9: "every mutation... recorded as an Event" before a later node may
// rely on it, and only an activity may perform non-deterministic I/O).
type CheckpointActivities struct {
	store *checkpoint.Store
}

// NewCheckpointActivities creates a new CheckpointActivities instance.
func NewCheckpointActivities(store *checkpoint.Store) *CheckpointActivities {
	return &CheckpointActivities{store: store}
}

// AppendEventsInput is the input for the AppendEvents activity.
type AppendEventsInput struct {
	WorkflowID      models.WorkflowId `json:"workflow_id"`
	ExpectedLastSeq int64             `json:"expected_last_seq"`
	Events          []models.Event    `json:"events"`
}

// AppendEventsOutput is the output from the AppendEvents activity.
type AppendEventsOutput struct {
	NewLastSeq int64 `json:"new_last_seq"`
}

// AppendEvents persists events to the durable log, failing non-retryably on
// a sequence conflict so the interpreter can reload and retry rather than
// silently double-applying events (§4.9 optimistic concurrency).
func (a *CheckpointActivities) AppendEvents(ctx context.Context, input AppendEventsInput) (AppendEventsOutput, error) {
	newSeq, err := a.store.AppendEvents(ctx, input.WorkflowID, input.ExpectedLastSeq, input.Events)
	if err != nil {
		return AppendEventsOutput{}, classifyCheckpointError(err)
	}
	return AppendEventsOutput{NewLastSeq: newSeq}, nil
}

// WriteSnapshotInput is the input for the WriteSnapshot activity.
type WriteSnapshotInput struct {
	State           models.WorkflowState `json:"state"`
	ExpectedVersion int64                `json:"expected_version"`
}

// WriteSnapshotOutput is the output from the WriteSnapshot activity.
type WriteSnapshotOutput struct {
	NewVersion int64 `json:"new_version"`
}

// WriteSnapshot persists the folded WorkflowState snapshot, the derived
// artifact every query handler and admin tool reads instead of replaying
// the full event log (§4.9 "snapshot is the fold of all prior events").
func (a *CheckpointActivities) WriteSnapshot(ctx context.Context, input WriteSnapshotInput) (WriteSnapshotOutput, error) {
	newVersion, err := a.store.WriteSnapshot(ctx, input.State, input.ExpectedVersion)
	if err != nil {
		return WriteSnapshotOutput{}, classifyCheckpointError(err)
	}
	return WriteSnapshotOutput{NewVersion: newVersion}, nil
}

// classifyCheckpointError converts the checkpoint store's taxonomy into a
// Temporal activity error. Conflict is never retryable at the activity
// level — the interpreter must reload the snapshot and recompute before
// trying again, not blindly resend the same expected-version write.
func classifyCheckpointError(err error) error {
	if oe, ok := err.(*models.OrchestratorError); ok {
		if oe.Kind == models.KindConflict {
			return temporal.NewNonRetryableApplicationError(oe.Error(), string(oe.Kind), nil)
		}
		if oe.Retryable() {
			return temporal.NewApplicationError(oe.Error(), string(oe.Kind))
		}
		return temporal.NewNonRetryableApplicationError(oe.Error(), string(oe.Kind), nil)
	}
	return temporal.NewApplicationError(err.Error(), string(models.KindInternal))
}

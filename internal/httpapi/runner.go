package httpapi

import (
	"context"
	"errors"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/forgeflow/orchestrator/internal/checkpoint"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/models"
)

// TemporalRunner is the production WorkflowRunner: workflow lifecycle
// operations go through the Temporal client; state reads prefer the live
// workflow's get_state query and fall back to the checkpoint store's
// snapshot for workflows whose execution has already closed (§4.9
// "load_snapshot").
type TemporalRunner struct {
	temporal client.Client
	store    *checkpoint.Store
}

// NewTemporalRunner constructs a TemporalRunner.
func NewTemporalRunner(temporal client.Client, store *checkpoint.Store) *TemporalRunner {
	return &TemporalRunner{temporal: temporal, store: store}
}

// Start launches the graph workflow with the domain WorkflowId as the
// Temporal workflow ID, which makes duplicate submissions of the same id
// idempotent at the Temporal layer.
func (r *TemporalRunner) Start(ctx context.Context, input graph.GraphInput) error {
	_, err := r.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        string(input.WorkflowID),
		TaskQueue: graph.TaskQueue,
	}, graph.GraphWorkflow, input)
	if err != nil {
		return models.NewError(models.KindUnavailable, "start workflow: %v", err)
	}
	return nil
}

// GetState reads the workflow's current state: the live query when the
// execution is still open, the checkpoint snapshot otherwise. An id known
// to neither is NotFound.
func (r *TemporalRunner) GetState(ctx context.Context, id models.WorkflowId) (*models.WorkflowState, error) {
	resp, err := r.temporal.QueryWorkflow(ctx, string(id), "", graph.QueryGetState)
	if err == nil {
		var state models.WorkflowState
		if decodeErr := resp.Get(&state); decodeErr != nil {
			return nil, models.NewError(models.KindInternal, "decode workflow state: %v", decodeErr)
		}
		return &state, nil
	}

	state, _, loadErr := r.store.LoadSnapshot(ctx, id)
	if loadErr != nil {
		return nil, models.NewError(models.KindUnavailable, "load snapshot for %s: %v", id, loadErr)
	}
	if state == nil {
		return nil, models.NewError(models.KindNotFound, "workflow %s not found", id)
	}
	return state, nil
}

// SubmitApproval delivers an approval decision to the suspended workflow as
// a Temporal Update, waiting for the handler to accept it.
func (r *TemporalRunner) SubmitApproval(ctx context.Context, id models.WorkflowId, in graph.ApprovalDecisionInput) error {
	handle, err := r.temporal.UpdateWorkflow(ctx, client.UpdateWorkflowOptions{
		WorkflowID:   string(id),
		UpdateName:   graph.UpdateApproval,
		Args:         []interface{}{in},
		WaitForStage: client.WorkflowUpdateStageCompleted,
	})
	if err != nil {
		return classifyTemporalError(id, err)
	}
	if err := handle.Get(ctx, nil); err != nil {
		return classifyTemporalError(id, err)
	}
	return nil
}

// Resume sends the resume Update to the workflow (see
// graph.LoopControl.RequestResume for what the workflow does with it).
func (r *TemporalRunner) Resume(ctx context.Context, id models.WorkflowId) error {
	handle, err := r.temporal.UpdateWorkflow(ctx, client.UpdateWorkflowOptions{
		WorkflowID:   string(id),
		UpdateName:   graph.UpdateResume,
		WaitForStage: client.WorkflowUpdateStageCompleted,
	})
	if err != nil {
		return classifyTemporalError(id, err)
	}
	return handle.Get(ctx, nil)
}

// Cancel signals cancellation; the workflow transitions at its next safe
// point (§4.4 "Cancellation").
func (r *TemporalRunner) Cancel(ctx context.Context, id models.WorkflowId) error {
	if err := r.temporal.SignalWorkflow(ctx, string(id), "", graph.SignalCancel, nil); err != nil {
		return classifyTemporalError(id, err)
	}
	return nil
}

// classifyTemporalError maps Temporal client failures into the §7 taxonomy.
// A not-found execution is NotFound; everything else is treated as a
// transport-level Unavailable since the front door cannot distinguish
// further without coupling to Temporal error internals.
func classifyTemporalError(id models.WorkflowId, err error) error {
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return models.NewError(models.KindNotFound, "workflow %s not found", id)
	}
	return models.NewError(models.KindUnavailable, "workflow %s: %v", id, err)
}

package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/forgeflow/orchestrator/internal/hitl"
	"github.com/forgeflow/orchestrator/internal/models"
)

// HitlActivities wraps the approval tracker so approval_gate's only durable
// side effect — creating the external approval record — happens inside an
// activity, not directly in workflow code (§4.8 step 1).
type HitlActivities struct {
	manager *hitl.Manager
}

// NewHitlActivities creates a new HitlActivities instance.
func NewHitlActivities(manager *hitl.Manager) *HitlActivities {
	return &HitlActivities{manager: manager}
}

// CreateApprovalInput is the input for the CreateApproval activity.
type CreateApprovalInput struct {
	WorkflowID models.WorkflowId `json:"workflow_id"`
	Summary    string            `json:"summary"`
	RiskLevel  models.RiskLevel  `json:"risk_level"`
	DeadlineMs int64             `json:"deadline_ms"`
}

// CreateApprovalOutput is the output from the CreateApproval activity.
type CreateApprovalOutput struct {
	ApprovalID models.ApprovalId `json:"approval_id"`
	Link       string            `json:"link"`
}

// CreateApproval opens an approval record on the external tracker for the
// workflow's current approval_gate entry.
func (a *HitlActivities) CreateApproval(ctx context.Context, input CreateApprovalInput) (CreateApprovalOutput, error) {
	record, err := a.manager.CreateApproval(ctx, hitl.ApprovalRequest{
		WorkflowID: input.WorkflowID,
		Summary:    input.Summary,
		RiskLevel:  input.RiskLevel,
		Deadline:   time.Now().Add(time.Duration(input.DeadlineMs) * time.Millisecond),
	})
	if err != nil {
		return CreateApprovalOutput{}, temporal.NewApplicationError(err.Error(), string(models.KindUnavailable))
	}
	return CreateApprovalOutput{ApprovalID: record.ID, Link: record.Link}, nil
}

// Package hitl implements the human-in-the-loop approval manager (§4.8):
// creating an approval record on an external tracker when a workflow
// enters approval_gate, and ingesting the eventual decision through a
// webhook or a polling fallback, delivered back to the suspended Temporal
// workflow as an Update.
package hitl

import (
	"context"
	"time"

	"github.com/forgeflow/orchestrator/internal/models"
)

// ApprovalRequest describes the action awaiting a human decision.
type ApprovalRequest struct {
	WorkflowID models.WorkflowId
	Summary    string
	RiskLevel  models.RiskLevel
	Deadline   time.Time
}

// ApprovalRecord is what the tracker hands back after creating a record.
type ApprovalRecord struct {
	ID   models.ApprovalId
	Link string
}

// Decision is a tracker-reported human decision, keyed by approval id so
// ingestion is idempotent.
type Decision struct {
	ApprovalID models.ApprovalId
	Decision   models.ApprovalDecision
	Decider    string
	Reason     string
}

// Tracker is the external issue-like system approval records live on. It is
// treated as an opaque collaborator, mirroring how internal/mcpclient
// treats the MCP gateway.
type Tracker interface {
	CreateApproval(ctx context.Context, req ApprovalRequest) (*ApprovalRecord, error)
	// FetchDecision polls for a decision on recordID. Returns (nil, nil) if
	// no decision has been made yet.
	FetchDecision(ctx context.Context, recordID models.ApprovalId) (*Decision, error)
}

// Package graph implements the workflow graph engine: a compiled directed
// graph of named nodes interpreted over data (not closures bound at
// compile time), running as a Temporal workflow so replay gives durable
// checkpointing, resume, and cancellation for free.
package graph

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/forgeflow/orchestrator/internal/models"
)

// ResponseSlot holds a single awaitable response of type T, delivered by a
// Temporal update handler and consumed by a blocking workflow.Await.
type ResponseSlot[T any] struct {
	received bool
	value    *T
}

// Deliver stores a response and marks the slot ready.
func (s *ResponseSlot[T]) Deliver(v T) {
	s.value = &v
	s.received = true
}

// Ready reports whether a response has been delivered.
func (s *ResponseSlot[T]) Ready() bool { return s.received }

// Take retrieves the response and resets the slot. Returns nil if not ready.
func (s *ResponseSlot[T]) Take() *T {
	v := s.value
	s.received = false
	s.value = nil
	return v
}

// LoopControl owns all Temporal coordination state for one workflow
// execution: the approval response slot the approval_gate node blocks on,
// and the cancellation/resume flags every node checks at its safe point.
// It is constructed fresh on every workflow run (including resume after a
// worker restart, via Temporal replay) and is never itself persisted —
// WorkflowState is the only thing the checkpoint store needs.
type LoopControl struct {
	cancelled       bool
	resumeRequested bool

	approvalSlot ResponseSlot[ApprovalDecisionInput]
}

// ApprovalDecisionInput is the payload delivered by the submit-approval-decision
// Update handler (§4.1 "Submit approval decision"). The json tags are the
// wire contract shared with internal/hitl's ClientWorkflowAdapter, which
// builds this shape structurally to avoid an import cycle.
type ApprovalDecisionInput struct {
	ApprovalID models.ApprovalId       `json:"approval_id"`
	Decision   models.ApprovalDecision `json:"decision"`
	Decider    string                  `json:"decider"`
	Reason     string                  `json:"reason"`
}

// DeliverApproval stores an approval decision. Duplicates for an
// already-decided approval are the caller's responsibility to ignore
// (hitl.Manager and the front door's approval handler filter them before
// delivery, §4.8 rule 3).
func (ctrl *LoopControl) DeliverApproval(in ApprovalDecisionInput) {
	ctrl.approvalSlot.Deliver(in)
}

// RequestCancel marks the workflow for cancellation at the next safe point
// (between node invocations, per §4.4).
func (ctrl *LoopControl) RequestCancel() { ctrl.cancelled = true }

// IsCancelled reports whether cancellation has been requested.
func (ctrl *LoopControl) IsCancelled() bool { return ctrl.cancelled }

// RequestResume records an operator-issued resume request. The interpreter
// loop does not read this flag and no path sets a workflow to `paused`, so
// a resume request does not change a running or suspended workflow.
func (ctrl *LoopControl) RequestResume() { ctrl.resumeRequested = true }

// AwaitApprovalDecision blocks until a decision is delivered or the
// workflow is cancelled. Returns nil if cancelled first. A decision
// delivered before the gate was reached is still sitting in the slot and
// satisfies the await immediately (§4.8: early decisions are held, not
// dropped); Take drains the slot on consumption.
func (ctrl *LoopControl) AwaitApprovalDecision(ctx workflow.Context) (*ApprovalDecisionInput, error) {
	err := workflow.Await(ctx, func() bool {
		return ctrl.approvalSlot.Ready() || ctrl.cancelled
	})
	if err != nil {
		return nil, fmt.Errorf("approval await failed: %w", err)
	}
	if ctrl.cancelled {
		return nil, nil
	}
	return ctrl.approvalSlot.Take(), nil
}

// AwaitApprovalDecisionWithDeadline blocks until a decision is delivered,
// the workflow is cancelled, or deadline passes, whichever comes first
// (§4.8 rule 5: a decision that never arrives by its deadline routes to
// handle_error with ApprovalExpired rather than suspending forever).
// expired is true only when the deadline elapsed with no decision and no
// cancellation.
func (ctrl *LoopControl) AwaitApprovalDecisionWithDeadline(ctx workflow.Context, deadline time.Time) (decision *ApprovalDecisionInput, expired bool, err error) {
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()

	remaining := deadline.Sub(workflow.Now(ctx))
	if remaining < 0 {
		remaining = 0
	}

	var timedOut bool
	workflow.Go(timerCtx, func(gctx workflow.Context) {
		if workflow.NewTimer(gctx, remaining).Get(gctx, nil) == nil {
			timedOut = true
		}
	})

	err = workflow.Await(ctx, func() bool {
		return ctrl.approvalSlot.Ready() || ctrl.cancelled || timedOut
	})
	cancelTimer()
	if err != nil {
		return nil, false, fmt.Errorf("approval await failed: %w", err)
	}

	if ctrl.cancelled {
		return nil, false, nil
	}
	if ctrl.approvalSlot.Ready() {
		return ctrl.approvalSlot.Take(), false, nil
	}
	return nil, true, nil
}

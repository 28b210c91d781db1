package httpapi

import (
	"context"
	"time"

	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/sse"
)

// statePollInterval is how often the stream loop refreshes the workflow
// snapshot. The owning worker publishes progress through the checkpoint
// store and the workflow query handler; the front door observes rather than
// subscribes, so SSE ordering is exactly the order this loop reads changes
// (§5 "Ordering guarantees").
const statePollInterval = 500 * time.Millisecond

// streamWorkflow observes a workflow until it reaches a terminal status,
// translating state deltas into the §6 event frames: status transitions,
// subtask updates, new assistant messages, and at most one approval_pending
// per outstanding approval. A client disconnect propagates as cancellation
// to the workflow (§4.1, §8 scenario S6); the workflow itself checkpoints
// the partial state at its next safe point.
func (s *Server) streamWorkflow(ctx context.Context, sw *sse.Writer, workflowID models.WorkflowId) {
	var (
		lastStatus       models.WorkflowStatus
		subtaskStatuses  = make(map[models.SubTaskId]models.SubTaskStatus)
		sentMessageCount int
		approvalSent     models.ApprovalId
	)

	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client gone (or stream deadline hit): request cancellation with
			// a fresh context — the request context that fired is already dead.
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.runner.Cancel(cancelCtx, workflowID); err != nil {
				s.logger.Warn("cancel on disconnect failed", "workflow_id", workflowID, "error", err)
			}
			cancel()
			return
		case <-ticker.C:
		}

		state, err := s.runner.GetState(ctx, workflowID)
		if err != nil {
			if ctx.Err() != nil {
				continue // let the ctx.Done branch handle teardown
			}
			s.streamFailure(sw, err)
			return
		}

		if state.Status != lastStatus {
			lastStatus = state.Status
			if err := sw.SendStatus(string(workflowID), string(state.Status)); err != nil {
				return
			}
		}

		for _, st := range state.SubTasks {
			if subtaskStatuses[st.ID] == st.Status {
				continue
			}
			subtaskStatuses[st.ID] = st.Status
			if err := sw.SendSubTask(string(st.ID), string(st.Status), string(st.AgentRole)); err != nil {
				return
			}
		}

		for ; sentMessageCount < len(state.Messages); sentMessageCount++ {
			msg := state.Messages[sentMessageCount]
			if msg.Role != models.RoleAssistant || msg.Content == "" {
				continue
			}
			if err := sw.SendContent(msg.Content); err != nil {
				return
			}
		}

		if state.Status == models.StatusAwaitingApproval && state.Approval != nil && state.Approval.ID != approvalSent {
			approvalSent = state.Approval.ID
			if err := sw.SendApprovalPending(string(state.Approval.ID), state.Approval.Link); err != nil {
				return
			}
		}

		if state.Status.IsTerminal() {
			if state.Status == models.StatusFailed {
				_ = sw.SendError(string(models.KindInternal), "workflow failed; see status endpoint for detail")
			}
			_ = sw.SendDone()
			return
		}
	}
}

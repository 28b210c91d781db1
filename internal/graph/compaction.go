package graph

import (
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/forgeflow/orchestrator/internal/activities"
	"github.com/forgeflow/orchestrator/internal/models"
)

// maybeCompactHistory bounds WorkflowState.Messages per §4.4: once more than
// historyBoundM user turns have accumulated, turns older than the most
// recent M are summarized by the ExecuteCompact activity and replaced by a
// single system message. The replacement is recorded as a HistoryCompacted
// event whose fold performs the identical splice, so replay uses the
// recorded summary instead of re-running the summarization.
//
// Compaction is best-effort: a summarization failure is logged and history
// stays unbounded until the next attempt. Only a failure to persist the
// compaction event is a hard error, since live state would then diverge
// from the log.
func maybeCompactHistory(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) error {
	userTurns := 0
	for _, m := range state.Messages {
		if m.Role == models.RoleUser {
			userTurns++
		}
	}
	if userTurns <= historyBoundM {
		return nil
	}

	cut := startOfNthLastUserTurn(state.Messages, historyBoundM)
	if cut <= 0 {
		return nil
	}
	older := state.Messages[:cut]

	var out activities.CompactActivityOutput
	err := workflow.ExecuteActivity(llmActivityOptions(ctx), "ExecuteCompact", activities.CompactActivityInput{
		Model:        deps.DefaultModel,
		Input:        older,
		Instructions: "Summarize these earlier conversation turns into one concise context note, preserving decisions, file paths, and unresolved questions.",
	}).Get(ctx, &out)
	if err != nil {
		workflow.GetLogger(ctx).Warn("history compaction failed; keeping full history", "error", err)
		return nil
	}

	ts := workflow.Now(ctx)
	summary := models.Message{
		Role:      models.RoleSystem,
		Content:   joinCompacted(out.Messages),
		Timestamp: ts,
	}
	if summary.Content == "" {
		return nil
	}

	ev := newEvent(models.EventHistoryCompacted, state.CurrentNode, ts, historyCompactedPayload{
		Summary:      summary,
		DroppedCount: cut,
	})
	state.Messages = append([]models.Message{summary}, state.Messages[cut:]...)
	return persistEvents(ctx, state, []models.Event{ev})
}

// startOfNthLastUserTurn returns the index of the keepN-th user message
// counting from the end, or 0 when fewer exist.
func startOfNthLastUserTurn(messages []models.Message, keepN int) int {
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			count++
			if count == keepN {
				return i
			}
		}
	}
	return 0
}

func joinCompacted(messages []models.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

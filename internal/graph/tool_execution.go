package graph

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/forgeflow/orchestrator/internal/activities"
	"github.com/forgeflow/orchestrator/internal/models"
)

// defaultToolTimeout is the per-invocation default from §4.7; per-tool
// overrides are resolved by the MCP client from config, not here.
const defaultToolTimeout = 30 * time.Second

// Tool-call retry policy (§4.7): up to 2 retries after the original
// attempt, only on Unavailable/DeadlineExceeded, full-jitter backoff.
const (
	maxToolAttempts = 3
	toolBackoffBase = 250 * time.Millisecond
	toolBackoffCap  = 4 * time.Second
)

// toolCallOutcome is one call's final result plus the per-attempt event
// trail that led to it.
type toolCallOutcome struct {
	result models.ToolResult
	events []models.Event
}

// executeToolCalls runs each tool call concurrently, driving the §4.7 retry
// policy explicitly in workflow code: every attempt executes the ExecuteTool
// activity exactly once (Temporal's own retry is disabled) and records its
// own ToolInvoked/ToolResulted pair, so a call that fails twice with
// Unavailable and then succeeds leaves exactly three pairs in the log
// (§4.7 "Every invocation records a ToolInvoked event before the call and a
// ToolResulted event after"; §8 scenario S5). Events are returned grouped
// per call, in call order, so the log stays deterministic regardless of how
// the concurrent attempts interleave.
func executeToolCalls(ctx workflow.Context, sessionID models.SessionId, calls []models.ToolCall, node models.NodeName) ([]models.ToolResult, []models.Event, error) {
	if len(calls) == 0 {
		return nil, nil, nil
	}

	outcomes := make([]toolCallOutcome, len(calls))
	wg := workflow.NewWaitGroup(ctx)
	for i := range calls {
		i := i
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			outcomes[i] = runToolCallWithRetries(gctx, sessionID, calls[i], node)
		})
	}
	wg.Wait(ctx)

	results := make([]models.ToolResult, len(calls))
	var events []models.Event
	for i, outcome := range outcomes {
		results[i] = outcome.result
		events = append(events, outcome.events...)
	}
	return results, events, nil
}

// runToolCallWithRetries performs the attempt loop for one call. Each
// attempt's ToolInvoked event precedes the activity execution and its
// ToolResulted event records the attempt's outcome, success or not; only
// Unavailable and DeadlineExceeded earn another attempt.
func runToolCallWithRetries(ctx workflow.Context, sessionID models.SessionId, call models.ToolCall, node models.NodeName) toolCallOutcome {
	var outcome toolCallOutcome

	for attempt := 0; attempt < maxToolAttempts; attempt++ {
		ts := workflow.Now(ctx)
		outcome.events = append(outcome.events, newEvent(models.EventToolInvoked, node, ts, toolInvokedPayload{
			CallID:       call.ID,
			Name:         call.Name,
			RedactedArgs: redactArguments(call.Arguments),
		}))

		out, err := executeToolOnce(ctx, sessionID, call)
		resultTs := workflow.Now(ctx)

		if err == nil {
			outcome.result = models.ToolResult{
				CallID:    out.CallID,
				Status:    statusFromSuccess(out.Success),
				Payload:   out.Payload,
				LatencyMs: out.LatencyMs,
			}
			outcome.events = append(outcome.events, newEvent(models.EventToolResulted, node, resultTs, toolResultedPayload{
				CallID:         call.ID,
				Status:         string(outcome.result.Status),
				PayloadExcerpt: excerpt(outcome.result.Payload),
			}))
			return outcome
		}

		kind := errorKindOf(err)
		outcome.result = models.ToolResult{
			CallID: call.ID,
			Status: models.ToolResultError,
			Payload: map[string]interface{}{
				"error": fmt.Sprintf("tool call failed: %v", err),
				"kind":  string(kind),
			},
		}
		outcome.events = append(outcome.events, newEvent(models.EventToolResulted, node, resultTs, toolResultedPayload{
			CallID:         call.ID,
			Status:         string(models.ToolResultError),
			PayloadExcerpt: excerpt(outcome.result.Payload),
		}))

		if kind != models.KindUnavailable && kind != models.KindDeadlineExceeded {
			break
		}
		if attempt == maxToolAttempts-1 {
			break
		}
		if sleepErr := workflow.Sleep(ctx, jitteredBackoff(ctx, attempt, toolBackoffBase, toolBackoffCap)); sleepErr != nil {
			break
		}
	}

	return outcome
}

// executeToolOnce runs the ExecuteTool activity with Temporal retry
// disabled: the attempt loop above owns retry policy so every attempt is
// independently recorded in the event log.
func executeToolOnce(ctx workflow.Context, sessionID models.SessionId, call models.ToolCall) (activities.ToolActivityOutput, error) {
	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: defaultToolTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	toolCtx := workflow.WithActivityOptions(ctx, actOpts)

	var out activities.ToolActivityOutput
	err := workflow.ExecuteActivity(toolCtx, "ExecuteTool", activities.ToolActivityInput{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		SessionID: string(sessionID),
	}).Get(ctx, &out)
	return out, err
}

func statusFromSuccess(success bool) models.ToolResultStatus {
	if success {
		return models.ToolResultOK
	}
	return models.ToolResultError
}

// errorKindOf recovers the §7 error kind an activity attached as its
// ApplicationError type string; anything unclassified is Internal.
func errorKindOf(err error) models.ErrorKind {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return models.ErrorKind(appErr.Type())
	}
	return models.KindInternal
}

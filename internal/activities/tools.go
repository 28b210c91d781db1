package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/forgeflow/orchestrator/internal/mcpclient"
	"github.com/forgeflow/orchestrator/internal/metrics"
	"github.com/forgeflow/orchestrator/internal/models"
)

// ToolActivityInput is the input for tool execution (§4.7 "invoke(name,
// args, deadline)").
type ToolActivityInput struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	// SessionID scopes which session's MCP connection manager owns this
	// tool's server connection (internal/mcpclient.McpStore key).
	SessionID string `json:"session_id"`
	// DeadlineMs overrides the default 30s per-invocation timeout (§4.7);
	// zero means use the default.
	DeadlineMs int64 `json:"deadline_ms,omitempty"`
}

// ToolActivityOutput is the output from tool execution. Only returned on
// successful activity completion; failures surface as a
// temporal.ApplicationError carrying the §7 kind as its type string (see
// classifyToolError), which the workflow's attempt loop reads to decide
// whether this call earns another attempt.
type ToolActivityOutput struct {
	CallID    string                 `json:"call_id"`
	Success   bool                   `json:"success"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	LatencyMs int64                  `json:"latency_ms"`
}

// defaultInvocationDeadline is §4.7's "per-invocation timeout default 30s".
const defaultInvocationDeadline = 30 * time.Second

// ToolActivities contains the MCP tool client's §4.7 activity surface.
type ToolActivities struct {
	store   *mcpclient.McpStore
	metrics *metrics.Metrics
}

// NewToolActivities creates a new ToolActivities instance. metrics may be
// nil (tests).
func NewToolActivities(store *mcpclient.McpStore, m *metrics.Metrics) *ToolActivities {
	return &ToolActivities{store: store, metrics: m}
}

func (a *ToolActivities) observe(toolName string, success bool, elapsed time.Duration) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	a.metrics.ToolInvocationCounter.WithLabelValues(toolName, status).Inc()
	a.metrics.ToolInvocationDuration.WithLabelValues(toolName, status).Observe(elapsed.Seconds())
}

// ExecuteTool invokes one selected tool through the MCP gateway, exactly
// once per activity execution — the §4.7 retry loop lives in workflow code
// (internal/graph/tool_execution.go) so every attempt records its own
// ToolInvoked/ToolResulted pair. ToolError results are NOT activity
// failures: a tool that ran and reported failure is a successful activity
// call with Success=false, so the calling node can decide whether to
// recover; every other failure surfaces as a non-retryable
// temporal.ApplicationError.
func (a *ToolActivities) ExecuteTool(ctx context.Context, input ToolActivityInput) (ToolActivityOutput, error) {
	mgr := a.store.Get(input.SessionID)
	if mgr == nil {
		return ToolActivityOutput{}, temporal.NewNonRetryableApplicationError(
			"no MCP connection manager for session "+input.SessionID, string(models.KindNotFound), nil)
	}

	deadline := defaultInvocationDeadline
	if input.DeadlineMs > 0 {
		deadline = time.Duration(input.DeadlineMs) * time.Millisecond
	}

	start := time.Now()
	result, err := mgr.Invoke(ctx, input.ToolName, input.Arguments, deadline)
	latencyMs := time.Since(start).Milliseconds()
	a.observe(input.ToolName, err == nil, time.Since(start))
	if err == nil {
		return ToolActivityOutput{
			CallID:    input.CallID,
			Success:   true,
			Payload:   result.Payload,
			LatencyMs: result.LatencyMs,
		}, nil
	}

	if oe, ok := err.(*models.OrchestratorError); ok {
		if oe.Kind == models.KindToolError {
			// The tool ran and returned an error: surfaced to the agent
			// node as a failed ToolResult, not an activity failure.
			return ToolActivityOutput{
				CallID:    input.CallID,
				Success:   false,
				Payload:   oe.Details,
				LatencyMs: latencyMs,
			}, nil
		}
		return ToolActivityOutput{}, classifyToolError(oe)
	}
	return ToolActivityOutput{}, temporal.NewApplicationError(err.Error(), string(models.KindInternal))
}

// classifyToolError converts the §4.7 error taxonomy into a Temporal
// activity error whose type string carries the kind. Every kind is marked
// non-retryable at the activity level: the workflow's attempt loop
// (internal/graph/tool_execution.go) owns retry policy and decides from
// the type string whether to try again.
func classifyToolError(oe *models.OrchestratorError) error {
	return temporal.NewNonRetryableApplicationError(oe.Error(), string(oe.Kind), nil)
}

package graph

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/forgeflow/orchestrator/internal/activities"
	"github.com/forgeflow/orchestrator/internal/agents"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

func mathRandFloat64() float64 { return rand.Float64() }

// nodeFunc is the shape every canonical node implements. A node mutates
// state in place and returns the domain events that justify the mutation
// (§4.4 "every mutation... recorded as an Event") plus routing directives;
// the interpreter in workflow.go wraps every call with NodeEntered/
// NodeExited bookkeeping and owns persistence.
type nodeFunc func(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error)

var nodeTable = map[models.NodeName]nodeFunc{
	models.NodeDelegateTask:     delegateTask,
	models.NodeExecuteTask:      executeTask,
	models.NodeAnalyzeResults:   analyzeResults,
	models.NodeDecideNext:       decideNext,
	models.NodeApprovalGate:     approvalGate,
	models.NodeHandleError:      handleError,
	models.NodeFinalizeWorkflow: finalizeWorkflow,
}

// defaultEdges is the compiled graph's unconditional routing, followed
// whenever a node returns a nil Next (§3 "graph is data, interpreted by a
// loop"). decide_next, approval_gate (on resume), and handle_error always
// set Next explicitly and never rely on this table.
var defaultEdges = map[models.NodeName]models.NodeName{
	models.NodeDelegateTask:   models.NodeExecuteTask,
	models.NodeExecuteTask:    models.NodeAnalyzeResults,
	models.NodeAnalyzeResults: models.NodeDecideNext,
}

func llmActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})
}

func shortActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    3,
		},
	})
}

func buildModelConfig(deps *NodeDeps, role agents.RoleConfig) models.ModelConfig {
	return models.ModelConfig{
		Model:         role.Model,
		Temperature:   0.2,
		MaxTokens:     deps.MaxResponseTokens,
		ContextWindow: deps.MaxContextTokens,
	}
}

func callLLM(ctx workflow.Context, modelCfg models.ModelConfig, history []models.Message, tools []toolloader.FunctionSchema, systemPrompt string) (activities.LLMActivityOutput, error) {
	var out activities.LLMActivityOutput
	future := workflow.ExecuteActivity(llmActivityOptions(ctx), "ExecuteLLMCall", activities.LLMActivityInput{
		History:      history,
		ModelConfig:  modelCfg,
		Tools:        tools,
		SystemPrompt: systemPrompt,
	})
	err := future.Get(ctx, &out)
	return out, err
}

// selectToolSchemas runs §4.6 selection and conversion for one node
// invocation. A tool whose schema had to be flattened to the permissive
// fallback gets a ToolSchemaWarning event (§4.6 "A warning event is emitted
// when a tool is dropped because no safe translation exists") alongside the
// still-usable flattened schema.
func selectToolSchemas(ctx workflow.Context, deps *NodeDeps, role agents.RoleConfig, message, subtaskDesc string, priorUse map[string]int, node models.NodeName) ([]toolloader.FunctionSchema, []models.Event) {
	selected := toolloader.Select(toolloader.SelectionInput{
		Catalog:        deps.Catalog,
		Strategy:       role.DefaultStrategy,
		Role:           string(role.Role),
		Message:        message,
		SubtaskDesc:    subtaskDesc,
		MaxTools:       deps.MaxToolsPerRequest,
		PriorUseCounts: priorUse,
	})
	schemas := make([]toolloader.FunctionSchema, 0, len(selected))
	var warnings []models.Event
	for _, spec := range selected {
		schema, ok := toolloader.ToFunctionSchema(spec)
		if !ok {
			warnings = append(warnings, newEvent(models.EventToolSchemaWarning, node, workflow.Now(ctx), toolSchemaWarningPayload{
				Tool: spec.Name,
				Note: "input schema flattened to a permissive object: no safe function-call translation exists",
			}))
		}
		schemas = append(schemas, schema)
	}
	return schemas, warnings
}

func appendMessage(state *models.WorkflowState, msg models.Message) models.Event {
	state.Messages = append(state.Messages, msg)
	return newEvent(models.EventMessageAppended, state.CurrentNode, msg.Timestamp, messageAppendedPayload{Message: msg})
}

func updateSubTask(state *models.WorkflowState, st models.SubTask, ts time.Time) models.Event {
	upsertSubTask(state, st)
	return newEvent(models.EventSubTaskUpdated, state.CurrentNode, ts, subTaskUpdatedPayload{SubTask: st})
}

// failEvent mutates state the same way Apply folds an EventFailed, keeping
// the live state byte-equal with a replay of the log.
func failEvent(state *models.WorkflowState, ts time.Time, reason string) models.Event {
	state.Status = models.StatusFailed
	state.Messages = append(state.Messages, models.Message{
		Role: models.RoleSystem, Content: "workflow failed: " + reason, Timestamp: ts,
	})
	return newEvent(models.EventFailed, state.CurrentNode, ts, failedPayload{Reason: reason})
}

// delegateTask runs the supervisor role: decompose the instruction into an
// ordered subtask list and an initial risk estimate (§4.5). A malformed
// result gets one corrective retry; a second malformed result marks the
// workflow failed, and since the interpreter loop stops at a terminal
// status, the handle_error route recorded with it does not run.
func delegateTask(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	role, err := agents.Resolve(models.RoleSupervisor, deps.ModelByRole, deps.DefaultModel)
	if err != nil {
		return NodeOutput{}, fmt.Errorf("delegate_task: resolve supervisor role: %w", err)
	}
	modelCfg := buildModelConfig(deps, role)

	history := state.Messages
	var plan *agents.SupervisorPlan
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		prompt := role.SystemPrompt
		if attempt > 0 {
			prompt += "\n\nYour previous response was not valid JSON matching the required subtasks/risk_level shape: " + lastErr.Error() + ". Respond again with only the corrected JSON."
		}
		out, callErr := callLLM(ctx, modelCfg, history, nil, prompt)
		if callErr != nil {
			return NodeOutput{}, fmt.Errorf("delegate_task: llm call: %w", callErr)
		}
		plan, lastErr = agents.ParseSupervisorPlan(out.Message.Content)
		if lastErr == nil {
			break
		}
	}

	ts := workflow.Now(ctx)
	if plan == nil {
		reason := fmt.Sprintf("supervisor output malformed after retry: %v", lastErr)
		return NodeOutput{
			Next:   nodeNamePtr(models.NodeHandleError),
			Events: []models.Event{failEvent(state, ts, reason)},
		}, nil
	}

	ids := make([]models.SubTaskId, len(plan.SubTasks))
	for i := range plan.SubTasks {
		ids[i] = models.NewSubTaskId()
	}

	var events []models.Event
	for i, planned := range plan.SubTasks {
		dependsOn := make([]models.SubTaskId, 0, len(planned.DependsOn))
		for _, idx := range planned.DependsOn {
			dependsOn = append(dependsOn, ids[idx])
		}
		st := models.SubTask{
			ID:          ids[i],
			AgentRole:   planned.AgentRole,
			Description: planned.Description,
			DependsOn:   dependsOn,
			Status:      models.SubTaskPending,
		}
		events = append(events, updateSubTask(state, st, ts))
	}
	state.RiskLevel = plan.Risk

	summary := fmt.Sprintf("Supervisor planned %d subtask(s) at risk level %s.", len(plan.SubTasks), plan.Risk)
	events = append(events, appendMessage(state, models.Message{
		Role: models.RoleAssistant, Content: summary, Timestamp: ts,
	}))

	return NodeOutput{Events: events}, nil
}

// executeTask dispatches the next ready subtask to its assigned agent role:
// one LLM call, optionally followed by a parallel tool round-trip (§4.5,
// §4.7).
func executeTask(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	next := state.NextReadySubTask()
	if next == nil {
		// No ready subtask but execute_task was entered: route through
		// decide_next, which knows whether that means "done" or "stuck".
		return NodeOutput{Next: nodeNamePtr(models.NodeDecideNext)}, nil
	}

	ts := workflow.Now(ctx)
	running := *next
	running.Status = models.SubTaskRunning
	running.Attempts++
	events := []models.Event{updateSubTask(state, running, ts)}
	state.CurrentSubTaskID = &running.ID

	role, err := agents.Resolve(running.AgentRole, deps.ModelByRole, deps.DefaultModel)
	if err != nil {
		return NodeOutput{}, fmt.Errorf("execute_task: resolve role %s: %w", running.AgentRole, err)
	}
	modelCfg := buildModelConfig(deps, role)

	priorUse := map[string]int{} // per-workflow counters are a §9 open enhancement; start cold each call
	tools, warnings := selectToolSchemas(ctx, deps, role, running.Description, running.Description, priorUse, state.CurrentNode)
	events = append(events, warnings...)

	out, err := callLLM(ctx, modelCfg, state.Messages, tools, role.SystemPrompt+"\n\nSubtask: "+running.Description)
	if err != nil {
		return NodeOutput{}, fmt.Errorf("execute_task: llm call: %w", err)
	}

	events = append(events, appendMessage(state, out.Message))

	if len(out.Message.ToolCalls) == 0 {
		return NodeOutput{Events: events}, nil
	}

	results, toolEvents, err := executeToolCalls(ctx, state.SessionID, out.Message.ToolCalls, state.CurrentNode)
	if err != nil {
		return NodeOutput{}, fmt.Errorf("execute_task: tool execution: %w", err)
	}
	events = append(events, toolEvents...)

	resultTs := workflow.Now(ctx)
	for _, result := range results {
		content, _ := json.Marshal(result.Payload)
		events = append(events, appendMessage(state, models.Message{
			Role: models.RoleTool, Content: string(content), ToolCallID: result.CallID, Timestamp: resultTs,
		}))
	}

	return NodeOutput{Events: events}, nil
}

// analyzeResults folds the just-completed subtask's tool results into its
// terminal status and clears CurrentSubTaskID (§4.5).
func analyzeResults(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	if state.CurrentSubTaskID == nil {
		return NodeOutput{}, nil
	}
	byID := state.SubTaskByID()
	st, ok := byID[*state.CurrentSubTaskID]
	if !ok {
		return NodeOutput{}, fmt.Errorf("analyze_results: unknown subtask %s", *state.CurrentSubTaskID)
	}

	ts := workflow.Now(ctx)
	updated := *st
	if anyToolFailed(state.Messages, ts) {
		updated.Status = models.SubTaskFailed
		updated.LastError = "one or more tool invocations returned an error result"
	} else {
		updated.Status = models.SubTaskDone
	}

	events := []models.Event{updateSubTask(state, updated, ts)}
	state.CurrentSubTaskID = nil

	return NodeOutput{Events: events}, nil
}

// anyToolFailed inspects the most recent run of tool-result messages
// (those appended since the last non-tool message) for an error status.
func anyToolFailed(messages []models.Message, _ time.Time) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != models.RoleTool {
			break
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(m.Content), &payload); err == nil {
			if errVal, ok := payload["error"]; ok && errVal != nil {
				return true
			}
		}
	}
	return false
}

// decideNext is the conditional router every other node's unconditional
// edge eventually reaches (§4.4): failed-past-budget routes to
// handle_error, unapproved high risk routes to approval_gate, a ready
// subtask continues execution, and exhausted work finalizes.
func decideNext(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	if state.HasExhaustedFailure(retryBudget) {
		return NodeOutput{Next: nodeNamePtr(models.NodeHandleError)}, nil
	}
	if state.RiskLevel.AtLeast(approvalRiskThreshold) && !state.RiskApproved {
		return NodeOutput{Next: nodeNamePtr(models.NodeApprovalGate)}, nil
	}
	if next := state.NextReadySubTask(); next != nil {
		return NodeOutput{Next: nodeNamePtr(models.NodeExecuteTask)}, nil
	}
	if state.HasPendingWork() {
		// Pending subtasks exist but none are ready: either a dependency
		// cycle or every remaining subtask is blocked on a failed one that
		// hasn't exhausted its retry budget yet — treat as stuck.
		return NodeOutput{Next: nodeNamePtr(models.NodeHandleError)}, nil
	}
	return NodeOutput{Next: nodeNamePtr(models.NodeFinalizeWorkflow)}, nil
}

// approvalGate only creates the approval record and suspends; the
// interpreter loop performs the actual blocking wait and the post-decision
// routing (see workflow.go), since that wait must survive worker restarts
// via workflow.Await rather than node-local logic.
func approvalGate(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	if state.Approval != nil && state.Approval.Decision == nil {
		// Already awaiting a decision (resumed after a worker restart);
		// nothing new to create. Next stays at the gate so current_node
		// remains a defined node for the duration of the suspension.
		return NodeOutput{Next: nodeNamePtr(models.NodeApprovalGate), Suspend: true}, nil
	}

	ts := workflow.Now(ctx)
	deadline := ts.Add(time.Duration(deps.ApprovalDeadlineSeconds) * time.Second)
	summary := approvalSummary(state)

	var out activities.CreateApprovalOutput
	future := workflow.ExecuteActivity(shortActivityOptions(ctx), "CreateApproval", activities.CreateApprovalInput{
		WorkflowID: state.WorkflowID,
		Summary:    summary,
		RiskLevel:  state.RiskLevel,
		DeadlineMs: int64(deps.ApprovalDeadlineSeconds) * 1000,
	})
	if err := future.Get(ctx, &out); err != nil {
		return NodeOutput{}, fmt.Errorf("approval_gate: create approval: %w", err)
	}

	approval := models.Approval{
		ID:        out.ApprovalID,
		Kind:      "risk_approval",
		CreatedAt: ts,
		Deadline:  deadline,
		Link:      out.Link,
	}
	state.Approval = &approval
	state.Status = models.StatusAwaitingApproval

	event := newEvent(models.EventApprovalRequested, state.CurrentNode, ts, approvalRequestedPayload{Approval: approval})
	return NodeOutput{Next: nodeNamePtr(models.NodeApprovalGate), Suspend: true, Events: []models.Event{event}}, nil
}

func approvalSummary(state *models.WorkflowState) string {
	return fmt.Sprintf("workflow %s requests approval at risk level %s (%d subtask(s))",
		state.WorkflowID, state.RiskLevel, len(state.SubTasks))
}

// handleError retries the failing subtask with exponential backoff up to
// retryBudget, then marks the workflow failed once exhausted (§4.4,
// "base 500ms, cap 8s, full jitter").
func handleError(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	ts := workflow.Now(ctx)

	var failing *models.SubTask
	for i := range state.SubTasks {
		if state.SubTasks[i].Status == models.SubTaskFailed {
			failing = &state.SubTasks[i]
			break
		}
	}

	if failing == nil || failing.Attempts > retryBudget {
		reason := "retry budget exhausted"
		if failing != nil {
			reason = fmt.Sprintf("subtask %s exhausted retry budget after %d attempts: %s", failing.ID, failing.Attempts, failing.LastError)
		}
		return NodeOutput{
			Next:   nodeNamePtr(models.NodeFinalizeWorkflow),
			Events: []models.Event{failEvent(state, ts, reason)},
		}, nil
	}

	delay := jitteredBackoff(ctx, failing.Attempts, backoffBase, backoffCap)
	if err := workflow.Sleep(ctx, delay); err != nil {
		return NodeOutput{}, fmt.Errorf("handle_error: backoff sleep: %w", err)
	}

	retried := *failing
	retried.Status = models.SubTaskPending
	event := updateSubTask(state, retried, workflow.Now(ctx))

	return NodeOutput{
		Next:   nodeNamePtr(models.NodeExecuteTask),
		Events: []models.Event{event},
	}, nil
}

// jitteredBackoff computes a full-jitter exponential delay for attempt,
// shared by handle_error's subtask retries and the tool-call attempt loop.
// The jitter itself comes from workflow.SideEffect, the idiomatic escape
// hatch for a non-deterministic value (math/rand) that must still replay
// identically.
func jitteredBackoff(ctx workflow.Context, attempt int, base, capDelay time.Duration) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > capDelay {
		backoff = capDelay
	}

	encoded := workflow.SideEffect(ctx, func(workflow.Context) interface{} {
		return mathRandFloat64()
	})
	var jitterFraction float64
	if err := encoded.Get(&jitterFraction); err != nil {
		jitterFraction = 1.0
	}
	return time.Duration(float64(backoff) * jitterFraction)
}

// finalizeWorkflow compiles the final assistant-facing message. It only
// marks the workflow Completed when no prior node has already set a
// terminal status, and never overrides one. The interpreter loop stops as
// soon as a status is terminal, so handle_error's exhaustion path and an
// approval rejection end the workflow without reaching this node.
func finalizeWorkflow(ctx workflow.Context, deps *NodeDeps, state *models.WorkflowState) (NodeOutput, error) {
	ts := workflow.Now(ctx)

	var events []models.Event
	if state.Status.IsTerminal() {
		events = append(events, appendMessage(state, models.Message{
			Role: models.RoleAssistant, Content: summarizeOutcome(state), Timestamp: ts,
		}))
	} else {
		state.Status = models.StatusCompleted
		final := summarizeOutcome(state)
		// Mirror Apply's fold of EventCompleted so live state and replay
		// stay byte-equal.
		state.Messages = append(state.Messages, models.Message{
			Role: models.RoleAssistant, Content: final, Timestamp: ts,
		})
		events = append(events, newEvent(models.EventCompleted, state.CurrentNode, ts, completedPayload{FinalMessage: final}))
	}

	return NodeOutput{Next: nodeNamePtr(models.NodeEnd), Events: events}, nil
}

func summarizeOutcome(state *models.WorkflowState) string {
	done, failed := 0, 0
	for _, st := range state.SubTasks {
		switch st.Status {
		case models.SubTaskDone:
			done++
		case models.SubTaskFailed:
			failed++
		}
	}
	return fmt.Sprintf("Workflow %s: %d subtask(s) completed, %d failed.", state.Status, done, failed)
}

func nodeNamePtr(n models.NodeName) *models.NodeName { return &n }

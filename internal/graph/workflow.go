package graph

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/forgeflow/orchestrator/internal/activities"
	"github.com/forgeflow/orchestrator/internal/models"
)

// GraphWorkflow is the Temporal entry point for one WorkflowState's
// lifetime (§4.4): it interprets the compiled node graph as data, appends
// every mutation to the durable event log before a later node relies on
// it, and checkpoints a snapshot at each suspend point or every
// 10 iterations, whichever comes first.
func GraphWorkflow(ctx workflow.Context, input GraphInput) (GraphResult, error) {
	logger := workflow.GetLogger(ctx)
	ctrl := &LoopControl{}

	state, err := initState(ctx, input)
	if err != nil {
		return GraphResult{}, err
	}
	RegisterHandlers(ctx, ctrl, state)

	deps, err := loadDeps(ctx, state)
	if err != nil {
		return GraphResult{}, err
	}

	iterations := 0
	for {
		if ctrl.IsCancelled() {
			if err := finishCancelled(ctx, state); err != nil {
				return GraphResult{}, err
			}
			break
		}

		if state.Status == models.StatusAwaitingApproval {
			if err := awaitAndApplyApproval(ctx, ctrl, state); err != nil {
				return GraphResult{}, err
			}
			if state.Status.IsTerminal() {
				break
			}
			continue
		}

		if state.CurrentNode == models.NodeEnd || state.Status.IsTerminal() {
			break
		}

		node, ok := nodeTable[state.CurrentNode]
		if !ok {
			return GraphResult{}, fmt.Errorf("no node registered for %q", state.CurrentNode)
		}

		entered := state.CurrentNode
		enterTs := workflow.Now(ctx)
		var events []models.Event
		events = append(events, newEvent(models.EventNodeEntered, entered, enterTs, nodeEnteredPayload{Node: entered}))

		output, err := node(ctx, deps, state)
		if err != nil {
			logger.Error("node execution failed", "node", entered, "error", err)
			return GraphResult{}, fmt.Errorf("node %q: %w", entered, err)
		}
		events = append(events, output.Events...)

		next := resolveNext(entered, output.Next)
		exitTs := workflow.Now(ctx)
		events = append(events, newEvent(models.EventNodeExited, entered, exitTs, nodeExitedPayload{Node: entered, Next: next}))
		state.CurrentNode = next

		if err := persistEvents(ctx, state, events); err != nil {
			return GraphResult{}, err
		}

		if err := maybeCompactHistory(ctx, deps, state); err != nil {
			return GraphResult{}, err
		}

		if output.Suspend {
			if err := writeSnapshot(ctx, state); err != nil {
				return GraphResult{}, err
			}
			continue
		}

		iterations++
		if iterations%10 == 0 {
			if err := writeSnapshot(ctx, state); err != nil {
				return GraphResult{}, err
			}
		}

		if iterations >= maxIterationsBeforeContinueAsNew {
			if err := writeSnapshot(ctx, state); err != nil {
				return GraphResult{}, err
			}
			return GraphResult{}, workflow.NewContinueAsNewError(ctx, GraphWorkflow, GraphInput{
				WorkflowID:        input.WorkflowID,
				SessionID:         input.SessionID,
				ConfigFingerprint: input.ConfigFingerprint,
				Resumed:           state,
			})
		}
	}

	if err := writeSnapshot(ctx, state); err != nil {
		return GraphResult{}, err
	}

	finalMessage := ""
	if len(state.Messages) > 0 {
		finalMessage = state.Messages[len(state.Messages)-1].Content
	}
	return GraphResult{FinalState: *state, FinalMessage: finalMessage}, nil
}

// resolveNext applies an explicit routing directive if the node gave one,
// otherwise follows the compiled graph's unconditional edge.
func resolveNext(entered models.NodeName, explicit *models.NodeName) models.NodeName {
	if explicit != nil {
		return *explicit
	}
	if next, ok := defaultEdges[entered]; ok {
		return next
	}
	return models.NodeEnd
}

// initState builds the first WorkflowState from scratch (recording a
// StateInit event) or restores one carried forward by ContinueAsNew.
func initState(ctx workflow.Context, input GraphInput) (*models.WorkflowState, error) {
	if input.Resumed != nil {
		state := *input.Resumed
		return &state, nil
	}

	ts := workflow.Now(ctx)
	state := &models.WorkflowState{}
	ev := newEvent(models.EventStateInit, models.NodeDelegateTask, ts, stateInitPayload{
		SessionID:         input.SessionID,
		Instruction:       input.Instruction,
		ConfigFingerprint: input.ConfigFingerprint,
	})
	ev.WorkflowID = input.WorkflowID
	if err := Apply(state, ev); err != nil {
		return nil, fmt.Errorf("init state: %w", err)
	}
	if err := persistEvents(ctx, state, []models.Event{ev}); err != nil {
		return nil, err
	}
	return state, nil
}

// loadDeps fetches the config snapshot and MCP tool catalog once per
// workflow run; both activity calls replay deterministically so deps are
// identical across every replay of this history.
func loadDeps(ctx workflow.Context, state *models.WorkflowState) (*NodeDeps, error) {
	var cfgOut activities.ConfigSnapshot
	cfgFuture := workflow.ExecuteActivity(shortActivityOptions(ctx), "LoadConfigSnapshot")
	if err := cfgFuture.Get(ctx, &cfgOut); err != nil {
		return nil, fmt.Errorf("load config snapshot: %w", err)
	}

	var mcpOut activities.InitializeMcpServersOutput
	mcpFuture := workflow.ExecuteActivity(llmActivityOptions(ctx), "InitializeMcpServers", activities.InitializeMcpServersInput{
		SessionID: string(state.SessionID),
	})
	if err := mcpFuture.Get(ctx, &mcpOut); err != nil {
		return nil, fmt.Errorf("initialize mcp servers: %w", err)
	}

	return &NodeDeps{
		ModelByRole:             cfgOut.ModelByRole,
		DefaultModel:            cfgOut.DefaultModel,
		MaxToolsPerRequest:      cfgOut.MaxToolsPerRequest,
		MaxContextTokens:        cfgOut.MaxContextTokens,
		MaxResponseTokens:       cfgOut.MaxResponseTokens,
		ApprovalDeadlineSeconds: cfgOut.ApprovalDeadlineSeconds,
		Catalog:                 mcpOut.Catalog,
	}, nil
}

// awaitAndApplyApproval is the interpreter's special-case handling of
// StatusAwaitingApproval (§2 architecture note): the approval_gate node
// itself only creates the record and suspends; this function performs the
// actual blocking wait — via workflow.Await, which yields the workflow
// goroutine without consuming worker capacity — and applies the decision
// directly, routing to decide_next on approval. A rejection ends the
// workflow as cancelled with the reason recorded and current_node set to
// END; finalize_workflow does not run for it. A decision that never arrives by its deadline routes to
// handle_error with ApprovalExpired (§4.8 rule 5).
func awaitAndApplyApproval(ctx workflow.Context, ctrl *LoopControl, state *models.WorkflowState) error {
	if state.Approval == nil {
		return fmt.Errorf("awaiting approval with no Approval record set")
	}

	decision, expired, err := ctrl.AwaitApprovalDecisionWithDeadline(ctx, state.Approval.Deadline)
	if err != nil {
		return fmt.Errorf("await approval decision: %w", err)
	}

	if ctrl.IsCancelled() {
		return finishCancelled(ctx, state)
	}

	ts := workflow.Now(ctx)
	if expired {
		// A decision that never arrives by its deadline routes to
		// handle_error with ApprovalExpired (§4.8 rule 5) rather than
		// failing the workflow outright — handle_error still governs
		// whether the underlying subtask gets another attempt.
		state.Status = models.StatusRunning
		reasonEvent := newEvent(models.EventApprovalDecided, models.NodeApprovalGate, ts, approvalDecidedPayload{
			ApprovalID: state.Approval.ID,
			Decision:   "",
			Decider:    "system",
			Reason:     string(models.KindApprovalExpired),
		})
		state.CurrentNode = models.NodeHandleError
		exitEvent := newEvent(models.EventNodeExited, models.NodeApprovalGate, ts, nodeExitedPayload{Node: models.NodeApprovalGate, Next: models.NodeHandleError})
		return persistEvents(ctx, state, []models.Event{reasonEvent, exitEvent})
	}
	if decision == nil {
		return fmt.Errorf("approval await returned neither a decision nor expiry")
	}

	decidedEvent := newEvent(models.EventApprovalDecided, models.NodeApprovalGate, ts, approvalDecidedPayload{
		ApprovalID: decision.ApprovalID,
		Decision:   decision.Decision,
		Decider:    decision.Decider,
		Reason:     decision.Reason,
	})
	decidedAt := ts
	state.Approval.Decision = &decision.Decision
	state.Approval.Decider = decision.Decider
	state.Approval.Reason = decision.Reason
	state.Approval.DecidedAt = &decidedAt

	if decision.Decision == models.DecisionReject {
		// §4.8 rule 4: rejection finalizes the workflow as cancelled with
		// the reason recorded. The rejection reason goes out as the final
		// assistant message; no further nodes or tool invocations run.
		reason := decision.Reason
		if reason == "" {
			reason = "approval rejected"
		}
		events := []models.Event{decidedEvent}
		events = append(events, appendMessage(state, models.Message{
			Role:      models.RoleAssistant,
			Content:   "Workflow cancelled: approval rejected: " + reason,
			Timestamp: ts,
		}))
		cancelEvent := newEvent(models.EventCancelled, models.NodeApprovalGate, ts, cancelledPayload{Reason: "approval rejected: " + reason})
		state.Status = models.StatusCancelled
		state.Messages = append(state.Messages, models.Message{
			Role: models.RoleSystem, Content: "workflow cancelled: approval rejected: " + reason, Timestamp: ts,
		})
		events = append(events, cancelEvent)
		state.CurrentNode = models.NodeEnd
		events = append(events, newEvent(models.EventNodeExited, models.NodeApprovalGate, ts, nodeExitedPayload{Node: models.NodeApprovalGate, Next: models.NodeEnd}))
		return persistEvents(ctx, state, events)
	}

	state.RiskApproved = true
	state.Status = models.StatusRunning
	state.CurrentNode = models.NodeDecideNext
	exitEvent := newEvent(models.EventNodeExited, models.NodeApprovalGate, ts, nodeExitedPayload{Node: models.NodeApprovalGate, Next: models.NodeDecideNext})

	return persistEvents(ctx, state, []models.Event{decidedEvent, exitEvent})
}

func finishCancelled(ctx workflow.Context, state *models.WorkflowState) error {
	ts := workflow.Now(ctx)
	ev := newEvent(models.EventCancelled, state.CurrentNode, ts, cancelledPayload{Reason: "cancellation requested"})
	state.Status = models.StatusCancelled
	// Mirror Apply's fold of EventCancelled so the live state and a replay
	// of the log stay byte-equal (§8 property 2).
	state.Messages = append(state.Messages, models.Message{
		Role: models.RoleSystem, Content: "workflow cancelled: cancellation requested", Timestamp: ts,
	})
	if err := persistEvents(ctx, state, []models.Event{ev}); err != nil {
		return err
	}
	return writeSnapshot(ctx, state)
}

// persistEvents appends events to the durable log via the AppendEvents
// activity and assigns the sequence numbers the store returns, keeping
// state.LastSeq authoritative for the next append's expected_last_seq.
func persistEvents(ctx workflow.Context, state *models.WorkflowState, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		events[i].WorkflowID = state.WorkflowID
	}

	var out activities.AppendEventsOutput
	future := workflow.ExecuteActivity(shortActivityOptions(ctx), "AppendEvents", activities.AppendEventsInput{
		WorkflowID:      state.WorkflowID,
		ExpectedLastSeq: state.LastSeq,
		Events:          events,
	})
	if err := future.Get(ctx, &out); err != nil {
		return fmt.Errorf("append events: %w", err)
	}

	state.LastSeq = out.NewLastSeq
	state.UpdatedAt = workflow.Now(ctx)
	return nil
}

// writeSnapshot persists the current folded state via the WriteSnapshot
// activity. expectedVersion tracking lives in the checkpoint store itself
// (LastSeq doubles as the optimistic-concurrency token here since one
// workflow execution is the sole writer of its own snapshot).
func writeSnapshot(ctx workflow.Context, state *models.WorkflowState) error {
	var out activities.WriteSnapshotOutput
	future := workflow.ExecuteActivity(shortActivityOptions(ctx), "WriteSnapshot", activities.WriteSnapshotInput{
		State:           *state,
		ExpectedVersion: state.LastSeq,
	})
	if err := future.Get(ctx, &out); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// RegisterHandlers wires the Temporal query/update/signal surface (§4.1) to
// LoopControl. Called once at the top of GraphWorkflow, before the
// interpreter loop starts, so handlers are live even while suspended. The
// get_state query closes over state directly: state's address never
// changes across the interpreter loop (only its fields mutate), so the
// closure always observes the latest values.
func RegisterHandlers(ctx workflow.Context, ctrl *LoopControl, state *models.WorkflowState) {
	_ = workflow.SetQueryHandler(ctx, QueryGetState, func() (*models.WorkflowState, error) {
		return state, nil
	})

	_ = workflow.SetUpdateHandler(ctx, UpdateApproval, func(ctx workflow.Context, in ApprovalDecisionInput) error {
		ctrl.DeliverApproval(in)
		return nil
	})

	_ = workflow.SetUpdateHandler(ctx, UpdateCancel, func(ctx workflow.Context) error {
		ctrl.RequestCancel()
		return nil
	})

	_ = workflow.SetUpdateHandler(ctx, UpdateResume, func(ctx workflow.Context) error {
		ctrl.RequestResume()
		return nil
	})

	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, SignalCancel)
		for {
			ch.Receive(gctx, nil)
			ctrl.RequestCancel()
		}
	})
}

package graph

import (
	"time"

	"github.com/forgeflow/orchestrator/internal/models"
)

// Temporal query/update/signal names registered by RegisterHandlers.
const (
	QueryGetState  = "get_state"
	UpdateApproval = "submit_approval_decision"
	UpdateCancel   = "cancel_workflow"
	UpdateResume   = "resume_workflow"
	SignalCancel   = "cancel"
)

// TaskQueue is the single Temporal task queue every worker polls and every
// workflow submission targets.
const TaskQueue = "orchestrator-core"

// NodeOutput is what a node implementation returns to the interpreter: a
// routing directive plus the events it produced. Nodes never mutate
// WorkflowState's persistence directly — the interpreter appends Events and
// folds them (§3 "every mutation... recorded as an Event").
type NodeOutput struct {
	// Next is the node to invoke next. Nil means follow the compiled graph's
	// unconditional edge (see defaultEdges in nodes.go); an explicit value overrides it
	// for conditional routing (decide_next, approval_gate, handle_error).
	Next *models.NodeName

	// Suspend, when true, tells the interpreter to persist the checkpoint
	// and release the worker; the workflow remains non-terminal until an
	// external stimulus (approval decision, resume, cancellation)
	// reactivates it.
	Suspend bool

	Events []models.Event
}

// GraphInput is the Temporal workflow input for one WorkflowState's
// lifetime. Only one GraphWorkflow execution exists per WorkflowId — the
// Temporal WorkflowID is the WorkflowId itself, giving idempotent submit
// semantics for free.
type GraphInput struct {
	WorkflowID WorkflowID
	SessionID  models.SessionId
	// Instruction is the initial user instruction that seeded this
	// workflow (§4.1 "Submit execute stream").
	Instruction string
	// WorkspaceContext is opaque caller-supplied context (repo path,
	// active file, etc.). GraphWorkflow does not read it, so it is not added
	// to the supervisor's first message or to any other node's input.
	WorkspaceContext map[string]interface{}

	// ConfigFingerprint is computed by the caller (internal/config) over
	// the resolved model/tool-profile selection (§9 supplemented feature).
	ConfigFingerprint string

	// Resumed carries forward prior state on ContinueAsNew. Nil on first run.
	Resumed *models.WorkflowState
}

// WorkflowID is a type alias kept distinct from models.WorkflowId so the
// Temporal workflow ID string and the domain identifier can diverge if the
// front door ever needs a namespaced Temporal ID; today they are equal.
type WorkflowID = models.WorkflowId

// GraphResult is the Temporal workflow's return value.
type GraphResult struct {
	FinalState   models.WorkflowState
	FinalMessage string
}

// maxIterationsBeforeContinueAsNew bounds a single Temporal workflow
// execution's history size; the engine calls workflow.ContinueAsNew with
// the folded WorkflowState once exceeded.
const maxIterationsBeforeContinueAsNew = 200

// approvalRiskThreshold is the RiskLevel at or above which decide_next
// routes to approval_gate (until approved) ahead of execute_task and
// finalize_workflow, per §4.4.
const approvalRiskThreshold = models.RiskHigh

// retryBudget is the default per-subtask retry budget used by handle_error
// (§4.4: "retry... up to its retry budget (default 2)").
const retryBudget = 2

// backoffBase, backoffCap are the handle_error exponential-backoff
// parameters (§4.4: "base 500ms, cap 8s, full jitter").
const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 8 * time.Second
)

// historyBoundM is the "keep the most recent M turns" bound before older
// messages are summarized (§4.4 "History bounding", default M = 30).
const historyBoundM = 30

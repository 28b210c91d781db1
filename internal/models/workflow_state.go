package models

import "time"

// WorkflowStatus is the authoritative lifecycle status of a WorkflowState.
// A workflow is in exactly one status at a time.
type WorkflowStatus string

const (
	StatusPending          WorkflowStatus = "pending"
	StatusRunning          WorkflowStatus = "running"
	StatusAwaitingApproval WorkflowStatus = "awaiting_approval"
	StatusPaused           WorkflowStatus = "paused"
	StatusCompleted        WorkflowStatus = "completed"
	StatusFailed           WorkflowStatus = "failed"
	StatusCancelled        WorkflowStatus = "cancelled"
)

// IsTerminal reports whether no further state-changing events may be
// appended once a workflow reaches this status.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RiskLevel is the supervisor's estimate of how consequential a workflow's
// proposed actions are; drives the approval_gate threshold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskOrder orders risk levels for threshold comparisons.
var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// AtLeast reports whether r is at least as severe as threshold.
func (r RiskLevel) AtLeast(threshold RiskLevel) bool {
	return riskOrder[r] >= riskOrder[threshold]
}

// ApprovalDecision is the human decision recorded against an Approval.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// Approval is the HITL record attached to a workflow awaiting a human
// decision. At most one may be outstanding (decision unset) per workflow.
type Approval struct {
	ID        ApprovalId        `json:"id"`
	Kind      string            `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
	Decision  *ApprovalDecision `json:"decision,omitempty"`
	Decider   string            `json:"decider,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Deadline  time.Time         `json:"deadline"`
	Link      string            `json:"link,omitempty"`
}

// Insight is a short free-form note captured by analyze_results and
// surfaced to later steps.
type Insight struct {
	SubTaskID SubTaskId `json:"subtask_id,omitempty"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeName identifies one of the canonical graph nodes.
type NodeName string

const (
	NodeDelegateTask    NodeName = "delegate_task"
	NodeExecuteTask     NodeName = "execute_task"
	NodeAnalyzeResults  NodeName = "analyze_results"
	NodeDecideNext      NodeName = "decide_next"
	NodeApprovalGate    NodeName = "approval_gate"
	NodeHandleError     NodeName = "handle_error"
	NodeFinalizeWorkflow NodeName = "finalize_workflow"
	// NodeEnd is the implicit terminal node every edge without an explicit
	// target resolves to.
	NodeEnd NodeName = "END"
)

// WorkflowState is the authoritative unit persisted by the checkpoint
// store. The workflow graph engine exclusively owns mutation; every other
// component reads via the checkpoint store's query interface or receives
// immutable snapshots.
type WorkflowState struct {
	WorkflowID WorkflowId `json:"workflow_id"`
	SessionID  SessionId  `json:"session_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Status WorkflowStatus `json:"status"`

	// Messages is monotonic: append-only, never edited or deleted.
	Messages []Message `json:"messages"`
	SubTasks []SubTask `json:"subtasks"`

	CurrentNode NodeName  `json:"current_node"`
	NextNode    *NodeName `json:"next_node,omitempty"`

	RiskLevel    RiskLevel  `json:"risk_level"`
	RiskApproved bool       `json:"risk_approved"`
	Approval     *Approval  `json:"approval,omitempty"`

	// CurrentSubTaskID is the subtask execute_task most recently dispatched,
	// consumed by analyze_results; nil between subtasks.
	CurrentSubTaskID *SubTaskId `json:"current_subtask_id,omitempty"`

	CapturedInsights []Insight `json:"captured_insights,omitempty"`

	// Retries maps a node to a retry count. No node writes to it: subtask
	// retries are counted in SubTask.Attempts, and tool-call attempts are
	// bounded inside the tool execution loop.
	Retries map[NodeName]int `json:"retries,omitempty"`

	// ConfigFingerprint hashes the resolved model/tool-profile selection
	// for this workflow, for reproducibility across resumes.
	ConfigFingerprint string `json:"config_fingerprint"`

	// LastSeq is the seq of the last Event folded into this snapshot.
	LastSeq int64 `json:"last_seq"`
}

// SubTaskByID indexes SubTasks for dependency lookups.
func (w *WorkflowState) SubTaskByID() map[SubTaskId]*SubTask {
	idx := make(map[SubTaskId]*SubTask, len(w.SubTasks))
	for i := range w.SubTasks {
		idx[w.SubTasks[i].ID] = &w.SubTasks[i]
	}
	return idx
}

// NextReadySubTask returns the first pending subtask whose dependencies are
// all done, or nil if none is ready.
func (w *WorkflowState) NextReadySubTask() *SubTask {
	byID := w.SubTaskByID()
	for i := range w.SubTasks {
		st := &w.SubTasks[i]
		if st.ReadyToRun(byID) {
			return st
		}
	}
	return nil
}

// HasPendingWork reports whether any subtask is not yet in a terminal state.
func (w *WorkflowState) HasPendingWork() bool {
	for _, st := range w.SubTasks {
		switch st.Status {
		case SubTaskPending, SubTaskRunning, SubTaskBlocked:
			return true
		}
	}
	return false
}

// HasExhaustedFailure reports whether any subtask has failed past its retry
// budget (tracked via each subtask's Attempts; callers pass the
// budget since the policy lives in the graph engine, not the model).
func (w *WorkflowState) HasExhaustedFailure(retryBudget int) bool {
	for _, st := range w.SubTasks {
		if st.Status == SubTaskFailed && st.Attempts > retryBudget {
			return true
		}
	}
	return false
}

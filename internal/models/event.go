package models

import "time"

// EventKind enumerates the append-only log record kinds. Every mutation of
// WorkflowState is recorded as an Event before the mutation is relied upon
// by a subsequent node; a snapshot is the fold of all prior events.
type EventKind string

const (
	EventStateInit         EventKind = "StateInit"
	EventNodeEntered       EventKind = "NodeEntered"
	EventNodeExited        EventKind = "NodeExited"
	EventMessageAppended   EventKind = "MessageAppended"
	EventSubTaskUpdated    EventKind = "SubTaskUpdated"
	EventToolInvoked       EventKind = "ToolInvoked"
	EventToolResulted      EventKind = "ToolResulted"
	EventApprovalRequested EventKind = "ApprovalRequested"
	EventApprovalDecided   EventKind = "ApprovalDecided"
	EventCheckpointed      EventKind = "Checkpointed"
	EventFailed            EventKind = "Failed"
	EventCompleted         EventKind = "Completed"
	EventCancelled         EventKind = "Cancelled"
	EventCaptureInsight    EventKind = "CaptureInsight"
	// EventHistoryCompacted records a summarization of turns older than the
	// retained window: the fold replaces the summarized prefix with the
	// recorded summary message, so replay never re-runs the summarization.
	EventHistoryCompacted EventKind = "HistoryCompacted"
	// EventToolSchemaWarning records a tool whose input schema had no safe
	// function-call translation and was flattened to a permissive object.
	// Audit-only, like ToolInvoked/ToolResulted.
	EventToolSchemaWarning EventKind = "ToolSchemaWarning"
)

// Event is one append-only log record. Seq is strictly increasing per
// workflow, starting at 1.
type Event struct {
	Seq         int64      `json:"seq"`
	WorkflowID  WorkflowId `json:"workflow_id"`
	Kind        EventKind  `json:"kind"`
	Payload     []byte     `json:"payload"`
	Timestamp   time.Time  `json:"timestamp"`
	CausingNode NodeName   `json:"causing_node,omitempty"`
}

// Package models contains the shared data model of the orchestration core:
// workflow state, messages, tool calls, subtasks, events, and the error
// taxonomy every component classifies failures into.
package models

import "github.com/google/uuid"

// WorkflowId identifies one execution of the workflow graph engine. Stable
// across resumes; created once on submission.
type WorkflowId string

// SessionId scopes conversational memory. Distinct from WorkflowId — a
// session may spawn many workflows over its lifetime.
type SessionId string

// SubTaskId identifies a single subtask within a workflow's subtask list.
type SubTaskId string

// ApprovalId identifies an outstanding or decided HITL approval record.
type ApprovalId string

// NewWorkflowId mints a new opaque workflow identifier.
func NewWorkflowId() WorkflowId {
	return WorkflowId(uuid.NewString())
}

// NewSessionId mints a new opaque session identifier.
func NewSessionId() SessionId {
	return SessionId(uuid.NewString())
}

// NewSubTaskId mints a new opaque subtask identifier.
func NewSubTaskId() SubTaskId {
	return SubTaskId(uuid.NewString())
}

// NewApprovalId mints a new opaque approval identifier.
func NewApprovalId() ApprovalId {
	return ApprovalId(uuid.NewString())
}

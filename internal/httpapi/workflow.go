package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/sse"
)

type executeRequest struct {
	Instruction      string                 `json:"instruction"`
	SessionID        string                 `json:"session_id"`
	WorkspaceContext map[string]interface{} `json:"workspace_context,omitempty"`
}

// handleExecuteStream is the §4.1 "Submit execute stream" operation: always
// routes to the workflow engine, bypassing intent classification.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewError(models.KindInvalidArgument, "malformed request body: %v", err))
		return
	}
	if req.Instruction == "" || req.SessionID == "" {
		writeError(w, models.NewError(models.KindInvalidArgument, "instruction and session_id are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), streamTimeout)
	defer cancel()

	sw, err := sse.NewWriter(w, s.keepaliveInterval())
	if err != nil {
		writeError(w, models.NewError(models.KindInternal, "streaming unsupported: %v", err))
		return
	}
	defer sw.Close()
	if s.metrics != nil {
		s.metrics.SSEStreamsActive.Inc()
		defer s.metrics.SSEStreamsActive.Dec()
	}

	s.startAndStream(ctx, sw, req.Instruction, models.SessionId(req.SessionID), req.WorkspaceContext)
}

type resumeRequest struct {
	ApprovalDecision string `json:"approval_decision,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Decider          string `json:"decider,omitempty"`
}

// handleResume is the §4.1 "Resume workflow" operation: reactivate a
// suspended workflow, optionally carrying an approval decision, and stream
// its continuation.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	workflowID := models.WorkflowId(chi.URLParam(r, "workflow_id"))

	var req resumeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, models.NewError(models.KindInvalidArgument, "malformed request body: %v", err))
			return
		}
	}

	state, err := s.runner.GetState(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	if state.Status != models.StatusAwaitingApproval && state.Status != models.StatusPaused {
		writeError(w, models.NewError(models.KindFailedPrecondition,
			"workflow %s is %s, not awaiting_approval or paused", workflowID, state.Status))
		return
	}

	if req.ApprovalDecision != "" {
		decision := models.ApprovalDecision(req.ApprovalDecision)
		if decision != models.DecisionApprove && decision != models.DecisionReject {
			writeError(w, models.NewError(models.KindInvalidArgument, "unknown approval_decision %q", req.ApprovalDecision))
			return
		}
		if state.Approval == nil {
			writeError(w, models.NewError(models.KindFailedPrecondition,
				"workflow %s has no outstanding approval", workflowID))
			return
		}
		err = s.runner.SubmitApproval(r.Context(), workflowID, graph.ApprovalDecisionInput{
			ApprovalID: state.Approval.ID,
			Decision:   decision,
			Decider:    req.Decider,
			Reason:     req.Reason,
		})
	} else {
		err = s.runner.Resume(r.Context(), workflowID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), streamTimeout)
	defer cancel()

	sw, err := sse.NewWriter(w, s.keepaliveInterval())
	if err != nil {
		writeError(w, models.NewError(models.KindInternal, "streaming unsupported: %v", err))
		return
	}
	defer sw.Close()
	if s.metrics != nil {
		s.metrics.SSEStreamsActive.Inc()
		defer s.metrics.SSEStreamsActive.Dec()
	}

	s.streamWorkflow(ctx, sw, workflowID)
}

// handleStatus is the §4.1 "Get workflow status" operation: a plain JSON
// snapshot of WorkflowState, no streaming.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := models.WorkflowId(chi.URLParam(r, "workflow_id"))
	state, err := s.runner.GetState(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type approvalRequest struct {
	ApprovalID string `json:"approval_id"`
	Decision   string `json:"decision"`
	Decider    string `json:"decider,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// handleApproval is the §4.1 "Submit approval decision" operation. The
// decision resumes the workflow if it is awaiting; a decision for an
// already-decided approval fails with FailedPrecondition (§7 "double
// approval").
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	workflowID := models.WorkflowId(chi.URLParam(r, "workflow_id"))

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewError(models.KindInvalidArgument, "malformed request body: %v", err))
		return
	}
	decision := models.ApprovalDecision(req.Decision)
	if req.ApprovalID == "" || (decision != models.DecisionApprove && decision != models.DecisionReject) {
		writeError(w, models.NewError(models.KindInvalidArgument,
			"approval_id and decision (approve|reject) are required"))
		return
	}

	state, err := s.runner.GetState(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	if state.Approval == nil || state.Approval.ID != models.ApprovalId(req.ApprovalID) {
		writeError(w, models.NewError(models.KindNotFound,
			"workflow %s has no approval %s", workflowID, req.ApprovalID))
		return
	}
	if state.Approval.Decision != nil {
		writeError(w, models.NewError(models.KindFailedPrecondition,
			"approval %s is already decided", req.ApprovalID))
		return
	}

	if err := s.runner.SubmitApproval(r.Context(), workflowID, graph.ApprovalDecisionInput{
		ApprovalID: models.ApprovalId(req.ApprovalID),
		Decision:   decision,
		Decider:    req.Decider,
		Reason:     req.Reason,
	}); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ApprovalGateCounter.WithLabelValues(string(decision)).Inc()
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": string(workflowID),
		"approval_id": req.ApprovalID,
		"status":      "accepted",
	})
}

// handleHealth is the §4.1 health endpoint: overall status plus one entry
// per dependency. Auth-exempt.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := "ok"
	deps := make(map[string]string, len(s.deps))
	for name, checker := range s.deps {
		if err := checker.Ping(r.Context()); err != nil {
			deps[name] = "unreachable: " + err.Error()
			overall = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":       overall,
		"dependencies": deps,
	})
}

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/forgeflow/orchestrator/internal/conversational"
	"github.com/forgeflow/orchestrator/internal/graph"
	"github.com/forgeflow/orchestrator/internal/intent"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/sse"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// AttachedFile is caller-supplied file context for a chat turn (§4.1
// "attached_files").
type AttachedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// maxAttachedBytes caps the total attached-file payload folded into the
// conversational prompt (§4.3 "capped total bytes").
const maxAttachedBytes = 64 * 1024

type chatRequest struct {
	Message        string         `json:"message"`
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	AttachedFiles  []AttachedFile `json:"attached_files,omitempty"`
	Mode           string         `json:"mode"`
	PromptEnhanced bool           `json:"prompt_enhanced,omitempty"`
}

// handleChatStream is the §4.1 "Submit chat stream" operation: classify the
// message (§4.2), then stream either the conversational handler's tokens or
// the workflow engine's events.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewError(models.KindInvalidArgument, "malformed request body: %v", err))
		return
	}
	if req.Message == "" || req.SessionID == "" {
		writeError(w, models.NewError(models.KindInvalidArgument, "message and session_id are required"))
		return
	}
	if req.Mode == "" {
		req.Mode = "ask"
	}
	if req.Mode != "ask" && req.Mode != "agent" {
		writeError(w, models.NewError(models.KindInvalidArgument, "unknown mode %q (expected ask or agent)", req.Mode))
		return
	}

	var fallback intent.LLMFallback
	if s.cfg.EnableIntentLLMFallback {
		fallback = s.intentFallback
	}
	classification := intent.Classify(req.Message, req.PromptEnhanced, req.Mode, fallback)
	if s.metrics != nil {
		s.metrics.ClassificationCounter.WithLabelValues(
			string(classification.Intent), string(classification.RoutingMode)).Inc()
	}
	if classification.ReviewRequested {
		s.logger.Info("classification flagged for review",
			"intent", classification.Intent, "confidence", classification.Confidence,
			"rationale", classification.Rationale)
	}

	// Unknown slash commands fail synchronously with a helpful error
	// (§4.2 rule 1) — before the response commits to SSE.
	if strings.HasPrefix(strings.TrimSpace(req.Message), "/") && classification.Command == nil {
		writeError(w, models.NewError(models.KindInvalidArgument,
			"unknown command; available commands: /execute <instruction>, /help, /status <workflow_id>, /cancel <workflow_id>"))
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

	if cmd := classification.Command; cmd != nil {
		s.runCommand(ctx, sw, req, *cmd)
		return
	}

	if classification.RoutingMode == intent.RouteConversational {
		s.runConversational(ctx, sw, req)
		return
	}

	s.startAndStream(ctx, sw, req.Message, models.SessionId(req.SessionID), nil)
}

// runCommand dispatches an explicit command (§4.2 rule 1) over the already
// open SSE stream.
func (s *Server) runCommand(ctx context.Context, sw *sse.Writer, req chatRequest, cmd intent.ParsedCommand) {
	switch cmd.Name {
	case "help":
		_ = sw.SendContent("Available commands:\n" +
			"/execute <instruction> — run a multi-step workflow\n" +
			"/status <workflow_id> — show a workflow's current status\n" +
			"/cancel <workflow_id> — cancel a running workflow\n" +
			"/help — this message\n")
		_ = sw.SendDone()

	case "status":
		if cmd.Args == "" {
			s.streamFailure(sw, models.NewError(models.KindInvalidArgument, "/status requires a workflow id"))
			return
		}
		state, err := s.runner.GetState(ctx, models.WorkflowId(cmd.Args))
		if err != nil {
			s.streamFailure(sw, err)
			return
		}
		_ = sw.SendStatus(string(state.WorkflowID), string(state.Status))
		_ = sw.SendContent(fmt.Sprintf("workflow %s is %s (%d subtask(s), risk %s)",
			state.WorkflowID, state.Status, len(state.SubTasks), state.RiskLevel))
		_ = sw.SendDone()

	case "cancel":
		if cmd.Args == "" {
			s.streamFailure(sw, models.NewError(models.KindInvalidArgument, "/cancel requires a workflow id"))
			return
		}
		if err := s.runner.Cancel(ctx, models.WorkflowId(cmd.Args)); err != nil {
			s.streamFailure(sw, err)
			return
		}
		_ = sw.SendContent("cancellation requested for workflow " + cmd.Args)
		_ = sw.SendDone()

	case "execute":
		if cmd.Args == "" {
			s.streamFailure(sw, models.NewError(models.KindInvalidArgument, "/execute requires an instruction"))
			return
		}
		s.startAndStream(ctx, sw, cmd.Args, models.SessionId(req.SessionID), nil)

	default:
		s.streamFailure(sw, models.NewError(models.KindInvalidArgument, "unknown command %q", cmd.Name))
	}
}

// runConversational drives the §4.3 low-latency path over the stream. On a
// permanent upstream failure it still emits a graceful final content chunk
// describing the failure before the error/done frames, per §4.3.
func (s *Server) runConversational(ctx context.Context, sw *sse.Writer, req chatRequest) {
	message := req.Message
	if attached := renderAttachedFiles(req.AttachedFiles); attached != "" {
		message = message + "\n\n" + attached
	}

	_, err := s.converse.Handle(ctx, conversationalRequest(s, message, req.SessionID), sw)
	if err != nil {
		oe := asOrchestratorError(err)
		_ = sw.SendContent("I couldn't complete that request: " + oe.Message)
		s.streamFailure(sw, oe)
		return
	}
	_ = sw.SendDone()
}

// startAndStream allocates a workflow id, starts the graph workflow, and
// streams its progress until terminal (§4.1 "Submit execute stream" event
// sequence, reused by the chat endpoint's workflow route).
func (s *Server) startAndStream(ctx context.Context, sw *sse.Writer, instruction string, sessionID models.SessionId, workspace map[string]interface{}) {
	workflowID := models.NewWorkflowId()
	input := graph.GraphInput{
		WorkflowID:        workflowID,
		SessionID:         sessionID,
		Instruction:       instruction,
		WorkspaceContext:  workspace,
		ConfigFingerprint: s.cfg.Fingerprint(),
	}

	if err := s.runner.Start(ctx, input); err != nil {
		s.streamFailure(sw, err)
		return
	}
	_ = sw.SendStatus(string(workflowID), string(models.StatusPending))

	s.streamWorkflow(ctx, sw, workflowID)
}

// streamFailure delivers the §7 terminal sequence: a final SSE error frame
// followed by done.
func (s *Server) streamFailure(sw *sse.Writer, err error) {
	oe := asOrchestratorError(err)
	_ = sw.SendError(string(oe.Kind), oe.Message)
	_ = sw.SendDone()
}

func renderAttachedFiles(files []AttachedFile) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	total := 0
	for _, f := range files {
		remaining := maxAttachedBytes - total
		if remaining <= 0 {
			break
		}
		content := f.Content
		if len(content) > remaining {
			content = content[:remaining] + "\n...(truncated)"
		}
		total += len(content)
		fmt.Fprintf(&b, "File %s:\n%s\n", f.Path, content)
	}
	return b.String()
}

// conversationalRequest builds the §4.3 request from process config: the
// default model with provider inferred from its identifier, the minimal
// tool strategy, and the default turn/tool budgets.
func conversationalRequest(s *Server, message, sessionID string) (req conversational.Request) {
	req.Message = message
	req.SessionID = models.SessionId(sessionID)
	req.ModelConfig = models.ModelConfig{
		Provider:      providerForModel(s.cfg.DefaultModel),
		Model:         s.cfg.DefaultModel,
		Temperature:   0.3,
		MaxTokens:     s.cfg.MaxResponseTokens,
		ContextWindow: s.cfg.MaxContextTokens,
	}
	req.ToolStrategy = toolloader.Minimal
	req.ToolCallBudget = 30 * time.Second
	return req
}

func providerForModel(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}

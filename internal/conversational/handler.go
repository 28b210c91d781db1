// Package conversational implements the §4.3 conversational handler: the
// low-latency, single-turn path the chat endpoint dispatches QA and
// SIMPLE_TASK intents to. Grounded on the teacher's single-turn mechanics
// in internal/workflow/turn.go (one LLM call, at most one tool
// round-trip), but runs as a plain Go function outside Temporal — this
// path never allocates a WorkflowId (§8 scenario S1) and so has no
// durable-replay requirement to justify the workflow sandbox's
// restrictions.
package conversational

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeflow/orchestrator/internal/llmclient"
	"github.com/forgeflow/orchestrator/internal/mcpclient"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/sessionmem"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// role is the fixed agents.RoleConfig-style profile key the progressive
// tool loader ranks against for this path; the conversational handler has
// no agent role of its own, so it uses a distinct profile name that only
// matches tools explicitly tagged for general assistant use.
const role = "conversational"

// defaultMaxTools is §4.3's "typically ≤ 15 tools" default cap.
const defaultMaxTools = 15

// defaultLastKTurns is §4.3's "last K turns (default K = 10)".
const defaultLastKTurns = 10

// pacePerWord is the token-level smoothing pace (§4.3 "default pacing
// 30 ms/word").
const pacePerWord = 30 * time.Millisecond

// Tool-call retry policy for the single §4.3 round-trip, per §4.7: up to 2
// retries on Unavailable/DeadlineExceeded, full-jitter backoff base 250ms
// capped at 4s. Applied by mcpclient.RetryInvoke since this path runs
// outside Temporal and gets no activity-level retry.
const (
	toolRetryMax  = 2
	toolRetryBase = 250 * time.Millisecond
	toolRetryCap  = 4 * time.Second
)

// Streamer receives the conversational handler's output incrementally. The
// HTTP front door implements this over internal/sse.Writer; tests can
// implement it over a plain slice.
type Streamer interface {
	SendContent(content string) error
}

// Request is one call into the conversational handler.
type Request struct {
	Message        string
	SessionID      models.SessionId
	ModelConfig    models.ModelConfig
	ToolStrategy   toolloader.Strategy
	MaxTools       int
	LastKTurns     int
	ToolCallBudget time.Duration // per-tool invocation deadline
}

// Handler wires the LLM client, the session-history accelerator, and the
// MCP tool client behind the §4.3 contract.
type Handler struct {
	llm      llmclient.LLMClient
	sessions *sessionmem.Store
	mcp      *mcpclient.McpStore
	logger   *slog.Logger
}

// New constructs a Handler. logger may be nil.
func New(llm llmclient.LLMClient, sessions *sessionmem.Store, mcp *mcpclient.McpStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{llm: llm, sessions: sessions, mcp: mcp, logger: logger}
}

// Handle runs the §4.3 contract: load short session history, call the LLM
// once with a bound tool profile, optionally perform one tool
// round-trip, stream the final response, then atomically append the new
// turn to session history. Returns the final assistant message.
//
// Fails with KindUnavailable-classified errors when the LLM or a required
// tool call permanently errors (§4.3); the caller is expected to still
// emit a graceful terminal SSE frame, which this function does not do
// itself — framing is the HTTP front door's job.
func (h *Handler) Handle(ctx context.Context, req Request, stream Streamer) (models.Message, error) {
	if req.MaxTools <= 0 {
		req.MaxTools = defaultMaxTools
	}
	if req.LastKTurns <= 0 {
		req.LastKTurns = defaultLastKTurns
	}
	if req.ToolStrategy == "" {
		req.ToolStrategy = toolloader.Minimal
	}

	history := h.sessions.GetOrCreate(string(req.SessionID))
	priorTurns, version := history.GetForPrompt(req.LastKTurns)

	userMsg := models.Message{Role: models.RoleUser, Content: req.Message, Timestamp: time.Now()}
	promptHistory := append(append([]models.Message{}, priorTurns...), userMsg)

	catalog := h.catalogFor(string(req.SessionID))
	schemas := h.selectToolSchemas(catalog, req.ToolStrategy, req.Message, req.MaxTools)

	resp, err := h.llm.Call(ctx, llmclient.LLMRequest{
		History:     promptHistory,
		ModelConfig: req.ModelConfig,
		Tools:       schemas,
	})
	if err != nil {
		return models.Message{}, classifyUpstream(err)
	}

	// §4.3: "at most one tool-execution round-trip then re-invokes the
	// LLM with the tool results appended".
	if len(resp.Message.ToolCalls) > 0 {
		toolResults, err := h.runToolCalls(ctx, string(req.SessionID), resp.Message.ToolCalls, req.ToolCallBudget)
		if err != nil {
			return models.Message{}, classifyUpstream(err)
		}

		withToolTurn := append(append([]models.Message{}, promptHistory...), resp.Message)
		withToolTurn = append(withToolTurn, toolResults...)

		resp, err = h.llm.Call(ctx, llmclient.LLMRequest{
			History:     withToolTurn,
			ModelConfig: req.ModelConfig,
			Tools:       schemas,
		})
		if err != nil {
			return models.Message{}, classifyUpstream(err)
		}
	}

	if stream != nil {
		if err := streamWords(resp.Message.Content, stream); err != nil {
			return models.Message{}, fmt.Errorf("stream response: %w", err)
		}
	}

	assistantMsg := resp.Message
	if assistantMsg.Timestamp.IsZero() {
		assistantMsg.Timestamp = time.Now()
	}

	// §4.3: "Session history is updated atomically at the end with the
	// new user and assistant messages". A version mismatch here means a
	// concurrent message on the same session won the race; this turn's
	// session-side memory is dropped (the caller already has the
	// response) rather than silently reordering history.
	if v, ok := history.AddItem(userMsg, version); ok {
		history.AddItem(assistantMsg, v)
	}

	return assistantMsg, nil
}

func (h *Handler) catalogFor(sessionID string) []toolloader.ToolSpec {
	mgr := h.mcp.Get(sessionID)
	if mgr == nil {
		return nil
	}
	specs := mgr.ToolSpecs()
	catalog := make([]toolloader.ToolSpec, 0, len(specs))
	for _, spec := range specs {
		tags := []string{spec.ServerName}
		if spec.ReadOnly {
			tags = append(tags, "read-only")
		}
		catalog = append(catalog, toolloader.ToolSpec{
			Name:        spec.QualifiedName,
			Server:      spec.ServerName,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
			Tags:        tags,
		})
	}
	return catalog
}

// selectToolSchemas runs §4.6 selection and conversion for this path. The
// conversational handler has no workflow event log (§8 scenario S1: no
// events in the checkpoint store), so a schema that had to be flattened is
// surfaced as a structured warning log instead of a warning event.
func (h *Handler) selectToolSchemas(catalog []toolloader.ToolSpec, strategy toolloader.Strategy, message string, maxTools int) []toolloader.FunctionSchema {
	selected := toolloader.Select(toolloader.SelectionInput{
		Catalog:  catalog,
		Strategy: strategy,
		Role:     role,
		Message:  message,
		MaxTools: maxTools,
	})
	schemas := make([]toolloader.FunctionSchema, 0, len(selected))
	for _, spec := range selected {
		schema, ok := toolloader.ToFunctionSchema(spec)
		if !ok {
			h.logger.Warn("tool schema flattened: no safe function-call translation",
				"tool", spec.Name, "server", spec.Server)
		}
		schemas = append(schemas, schema)
	}
	return schemas
}

func (h *Handler) runToolCalls(ctx context.Context, sessionID string, calls []models.ToolCall, deadline time.Duration) ([]models.Message, error) {
	mgr := h.mcp.Get(sessionID)
	if mgr == nil {
		return nil, models.NewError(models.KindNotFound, "no MCP session for %q", sessionID)
	}

	results := make([]models.Message, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		res, err := mgr.RetryInvoke(ctx, call.Name, call.Arguments, deadline, toolRetryMax, toolRetryBase, toolRetryCap)
		latency := time.Since(start).Milliseconds()

		status := models.ToolResultOK
		payload := res.Payload
		if err != nil {
			status = models.ToolResultError
			if payload == nil {
				payload = map[string]interface{}{}
			}
			payload["error"] = err.Error()
		}

		toolResult := models.ToolResult{CallID: call.ID, Status: status, Payload: payload, LatencyMs: latency}
		content, marshalErr := toolResultContent(toolResult)
		if marshalErr != nil {
			return nil, marshalErr
		}
		results = append(results, models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Timestamp:  time.Now(),
		})
	}
	return results, nil
}

// toolResultContent renders a tool invocation outcome as the string body
// of the RoleTool history message fed back into the next LLM call.
func toolResultContent(result models.ToolResult) (string, error) {
	encoded, err := json.Marshal(result.Payload)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(encoded), nil
}

// splitKeepingSpaces splits content into word-sized chunks for the §4.3
// pacing loop, each chunk keeping its trailing whitespace so the
// concatenation of all chunks reconstructs content exactly — unlike
// strings.Fields, which discards the whitespace it splits on.
func splitKeepingSpaces(content string) []string {
	var chunks []string
	start := 0
	for i, r := range content {
		if r == ' ' || r == '\n' || r == '\t' {
			chunks = append(chunks, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		chunks = append(chunks, content[start:])
	}
	return chunks
}

func streamWords(content string, stream Streamer) error {
	if content == "" {
		return nil
	}
	words := splitKeepingSpaces(content)
	for _, w := range words {
		if err := stream.SendContent(w); err != nil {
			return err
		}
		time.Sleep(pacePerWord)
	}
	return nil
}

// classifyUpstream wraps any non-OrchestratorError failure from the LLM or
// tool client as KindUnavailable, matching §4.3's "Fails with
// UPSTREAM_UNAVAILABLE if the LLM or a required tool call permanently
// errors".
func classifyUpstream(err error) error {
	if oe, ok := err.(*models.OrchestratorError); ok {
		return oe
	}
	return models.NewError(models.KindUnavailable, "upstream error: %v", err)
}

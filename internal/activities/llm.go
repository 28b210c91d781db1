// Package activities bridges the workflow graph engine to the LLM client,
// MCP tool client, and checkpoint store through Temporal activities, so
// every external side effect is recorded durably before a later node
// relies on it (§4.4 "Determinism and replay").
package activities

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/forgeflow/orchestrator/internal/llmclient"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// LLMActivityInput is the input for one agent-node or conversational-turn
// LLM call (§4.5, §4.3).
type LLMActivityInput struct {
	History      []models.Message            `json:"history"`
	ModelConfig  models.ModelConfig          `json:"model_config"`
	Tools        []toolloader.FunctionSchema `json:"tools,omitempty"`
	SystemPrompt string                      `json:"system_prompt,omitempty"`

	// PreviousResponseID lets Responses-API-style providers chain to a
	// prior turn instead of resending full history.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// LLMActivityOutput is the output from the LLM activity.
type LLMActivityOutput struct {
	Message      models.Message      `json:"message"`
	FinishReason models.FinishReason `json:"finish_reason"`
	TokenUsage   models.TokenUsage   `json:"token_usage"`
	ResponseID   string              `json:"response_id,omitempty"`
}

// LLMActivities contains LLM-related activities.
type LLMActivities struct {
	client llmclient.LLMClient
}

// NewLLMActivities creates a new LLMActivities instance.
func NewLLMActivities(client llmclient.LLMClient) *LLMActivities {
	return &LLMActivities{client: client}
}

// ExecuteLLMCall performs one LLM request and classifies any failure into
// a Temporal application error carrying the §7 error kind as its type
// string, so the workflow's RetryPolicy (retrying the kinds
// models.ErrorKind.Retryable allows, plus unclassified errors) governs
// retries without the node itself parsing errors.
func (a *LLMActivities) ExecuteLLMCall(ctx context.Context, input LLMActivityInput) (LLMActivityOutput, error) {
	request := llmclient.LLMRequest{
		History:            input.History,
		ModelConfig:        input.ModelConfig,
		Tools:              input.Tools,
		SystemPrompt:       input.SystemPrompt,
		PreviousResponseID: input.PreviousResponseID,
	}

	response, err := a.client.Call(ctx, request)
	if err != nil {
		return LLMActivityOutput{}, classifyLLMError(err)
	}

	return LLMActivityOutput{
		Message:      response.Message,
		FinishReason: response.FinishReason,
		TokenUsage:   response.TokenUsage,
		ResponseID:   response.ResponseID,
	}, nil
}

// CompactActivityInput is the input for the history-bounding summarization
// activity (§4.4 "History bounding").
type CompactActivityInput struct {
	Model        string           `json:"model"`
	Input        []models.Message `json:"input"`
	Instructions string           `json:"instructions,omitempty"`
}

// CompactActivityOutput is the compacted replacement for the summarized
// message range.
type CompactActivityOutput struct {
	Messages   []models.Message  `json:"messages"`
	TokenUsage models.TokenUsage `json:"token_usage"`
}

// ExecuteCompact summarizes messages older than the retained window into a
// single system message, keeping `messages` bounded per §4.4's default
// M = 30 turns.
func (a *LLMActivities) ExecuteCompact(ctx context.Context, input CompactActivityInput) (CompactActivityOutput, error) {
	resp, err := a.client.Compact(ctx, llmclient.CompactRequest{
		Model:        input.Model,
		Input:        input.Input,
		Instructions: input.Instructions,
	})
	if err != nil {
		return CompactActivityOutput{}, classifyLLMError(err)
	}

	return CompactActivityOutput{
		Messages:   resp.Messages,
		TokenUsage: resp.TokenUsage,
	}, nil
}

// EstimateContextUsage estimates how close history is to contextWindow, a
// rough 4-chars-per-token heuristic. The graph engine does not call it; its
// compaction trigger counts user turns instead (internal/graph/compaction.go).
func EstimateContextUsage(history []models.Message, contextWindow int) float64 {
	if contextWindow <= 0 {
		return 0
	}
	totalChars := 0
	for _, m := range history {
		totalChars += len(m.Content)
		for _, tc := range m.ToolCalls {
			totalChars += len(tc.Name)
		}
	}
	estimatedTokens := totalChars / 4
	return float64(estimatedTokens) / float64(contextWindow)
}

// classifyLLMError converts an *models.OrchestratorError (or any other
// error) into a Temporal application error. Retryable kinds, and errors that
// are not an OrchestratorError (surfaced as Internal), keep Temporal's
// default retry behavior; other kinds are marked non-retryable so the
// workflow's handle_error node decides recover-vs-surface deliberately
// rather than Temporal silently retrying an unretryable failure.
func classifyLLMError(err error) error {
	oe, ok := err.(*models.OrchestratorError)
	if !ok {
		return temporal.NewApplicationError(err.Error(), string(models.KindInternal))
	}
	if oe.Retryable() {
		return temporal.NewApplicationError(oe.Error(), string(oe.Kind))
	}
	return temporal.NewNonRetryableApplicationError(oe.Error(), string(oe.Kind), nil)
}

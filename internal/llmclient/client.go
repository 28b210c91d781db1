// Package llmclient wraps each LLM provider behind one LLMClient interface,
// selected per request by the model config's Provider field (§9 "Global
// configuration"); LLM_PROVIDER_URL is not read by this package.
package llmclient

import (
	"context"
	"net/http"

	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// LLMRequest is one call to an agent node's or the conversational handler's
// model.
type LLMRequest struct {
	History     []models.Message            `json:"history"`
	ModelConfig models.ModelConfig          `json:"model_config"`
	Tools       []toolloader.FunctionSchema `json:"tools,omitempty"`

	SystemPrompt string `json:"system_prompt,omitempty"`

	// PreviousResponseID lets Responses-API-style providers chain to a
	// prior turn instead of resending full history.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// LLMResponse is the result of one LLMRequest.
type LLMResponse struct {
	Message      models.Message      `json:"message"`
	FinishReason models.FinishReason `json:"finish_reason"`
	TokenUsage   models.TokenUsage   `json:"token_usage"`
	ResponseID   string              `json:"response_id,omitempty"`
}

// CompactRequest asks a provider to summarize history older than the
// retained window (§4.4 "History bounding").
type CompactRequest struct {
	Model        string           `json:"model"`
	Input        []models.Message `json:"input"`
	Instructions string           `json:"instructions,omitempty"`
}

// CompactResponse is the compacted replacement for CompactRequest.Input.
type CompactResponse struct {
	Messages   []models.Message `json:"messages"`
	TokenUsage models.TokenUsage `json:"token_usage"`
}

// LLMClient is the interface every provider client implements.
type LLMClient interface {
	Call(ctx context.Context, request LLMRequest) (LLMResponse, error)
	Compact(ctx context.Context, request CompactRequest) (CompactResponse, error)
}

// classifyByStatusCode maps an HTTP status code to the §7 error taxonomy.
// Shared by every provider's error classifier.
//
//   - 429: Unavailable (retryable, rate limited)
//   - 408, 409: Unavailable (retryable, transient)
//   - other 4xx: InvalidArgument (non-retryable client error)
//   - 5xx: Unavailable (retryable server error)
func classifyByStatusCode(statusCode int, err error) *models.OrchestratorError {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return models.NewError(models.KindUnavailable, "rate limit (%d): %v", statusCode, err)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusConflict:
		return models.NewError(models.KindUnavailable, "retryable error (%d): %v", statusCode, err)
	case statusCode >= 400 && statusCode < 500:
		return models.NewError(models.KindInvalidArgument, "client error (%d): %v", statusCode, err)
	case statusCode >= 500:
		return models.NewError(models.KindUnavailable, "server error (%d): %v", statusCode, err)
	default:
		return models.NewError(models.KindInternal, "unexpected status (%d): %v", statusCode, err)
	}
}

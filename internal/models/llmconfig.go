package models

// ModelConfig selects and parameterizes one LLM call. One is resolved per
// agent role from LLM_MODEL_<role> config (see internal/config).
type ModelConfig struct {
	Provider      string  `json:"provider"` // "anthropic" | "openai"
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	ContextWindow int     `json:"context_window"`
}

// FinishReason indicates why the LLM stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

// TokenUsage tracks token consumption for one LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

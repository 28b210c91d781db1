package llmclient

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// AnthropicClient implements LLMClient using Anthropic's Messages API.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates an Anthropic client from ANTHROPIC_API_KEY.
func NewAnthropicClient() *AnthropicClient {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Call sends request to Anthropic and returns the complete response.
func (c *AnthropicClient) Call(ctx context.Context, request LLMRequest) (LLMResponse, error) {
	messages, err := c.convertHistory(request.History)
	if err != nil {
		return LLMResponse{}, models.NewError(models.KindInvalidArgument, "failed to build messages: %v", err)
	}

	maxTokens := request.ModelConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     selectAnthropicModel(request.ModelConfig.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: request.SystemPrompt,
			CacheControl: anthropic.CacheControlEphemeralParam{
				TTL: anthropic.CacheControlEphemeralTTLTTL5m,
			},
		}}
	}
	if request.ModelConfig.Temperature > 0 {
		params.Temperature = anthropic.Float(request.ModelConfig.Temperature)
	}
	if len(request.Tools) > 0 {
		params.Tools = c.buildToolDefinitions(request.Tools)
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return LLMResponse{}, classifyAnthropicError(err)
	}

	message, finishReason := c.parseResponse(response)

	return LLMResponse{
		Message:      message,
		FinishReason: finishReason,
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(response.Usage.InputTokens),
			CompletionTokens: int(response.Usage.OutputTokens),
			TotalTokens:      int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
		ResponseID: response.ID,
	}, nil
}

// Compact asks the model to summarize Input into a single system message.
func (c *AnthropicClient) Compact(ctx context.Context, request CompactRequest) (CompactResponse, error) {
	messages, err := c.convertHistory(request.Input)
	if err != nil {
		return CompactResponse{}, models.NewError(models.KindInvalidArgument, "failed to build messages: %v", err)
	}

	params := anthropic.MessageNewParams{
		Model:     selectAnthropicModel(request.Model),
		MaxTokens: 2048,
		Messages:  messages,
	}
	if request.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.Instructions}}
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return CompactResponse{}, classifyAnthropicError(err)
	}

	message, _ := c.parseResponse(response)
	return CompactResponse{
		Messages: []models.Message{{Role: models.RoleSystem, Content: message.Content}},
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(response.Usage.InputTokens),
			CompletionTokens: int(response.Usage.OutputTokens),
			TotalTokens:      int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
	}, nil
}

// selectAnthropicModel maps a configured model name to Anthropic's Model
// type, defaulting to the current Sonnet if unrecognized.
func selectAnthropicModel(modelName string) anthropic.Model {
	switch modelName {
	case "claude-sonnet-4.5", "claude-sonnet-4.5-20250929":
		return anthropic.ModelClaudeSonnet4_5_20250929
	case "claude-opus-4.6", "claude-opus-4-6":
		return anthropic.ModelClaudeOpus4_6
	case "claude-haiku-4.5", "claude-haiku-4.5-20251001", "claude-haiku-4-5-20251001":
		return anthropic.ModelClaudeHaiku4_5_20251001
	case "claude-3.7-sonnet-20250219":
		return anthropic.ModelClaude3_7Sonnet20250219
	case "claude-3.5-haiku-20241022":
		return anthropic.ModelClaude3_5Haiku20241022
	default:
		return anthropic.ModelClaudeSonnet4_5_20250929
	}
}

// convertHistory converts a models.Message history into Anthropic's
// alternating user/assistant message format. Anthropic carries tool calls
// as content blocks inside the assistant message and tool results as
// content blocks inside a user message, unlike OpenAI's separate roles.
func (c *AnthropicClient) convertHistory(history []models.Message) ([]anthropic.MessageParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))

	for _, m := range history {
		switch m.Role {
		case models.RoleUser, models.RoleSystem:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{OfText: &anthropic.TextBlockParam{Text: m.Content}}},
			})

		case models.RoleAssistant:
			content := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				content = append(content, anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: m.Content}})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: tc.Arguments,
					},
				})
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: content})
			}

		case models.RoleTool:
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: m.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: m.Content},
						}},
					},
				}},
			})
		}
	}

	return messages, nil
}

// buildToolDefinitions converts function-calling schemas to Anthropic tool
// definitions; Anthropic's InputSchema takes the same JSON-Schema shape
// §4.6 already normalizes tool catalogs into.
func (c *AnthropicClient) buildToolDefinitions(specs []toolloader.FunctionSchema) []anthropic.ToolUnionParam {
	toolDefs := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		properties, _ := spec.Parameters["properties"].(map[string]interface{})
		var required []string
		if raw, ok := spec.Parameters["required"].([]interface{}); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		} else if raw, ok := spec.Parameters["required"].([]string); ok {
			required = raw
		}

		inputSchema := anthropic.ToolInputSchemaParam{Properties: properties}
		if len(required) > 0 {
			inputSchema.Required = required
		}

		toolDefs = append(toolDefs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return toolDefs
}

// parseResponse converts an Anthropic response's content blocks into one
// models.Message plus the matching FinishReason.
func (c *AnthropicClient) parseResponse(response *anthropic.Message) (models.Message, models.FinishReason) {
	message := models.Message{Role: models.RoleAssistant}
	finishReason := models.FinishStop

	for _, block := range response.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			message.Content += textBlock.Text

		case "tool_use":
			toolBlock := block.AsToolUse()
			var args map[string]interface{}
			if raw, err := json.Marshal(toolBlock.Input); err == nil {
				_ = json.Unmarshal(raw, &args)
			}
			message.ToolCalls = append(message.ToolCalls, models.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}

	switch response.StopReason {
	case anthropic.StopReasonToolUse:
		finishReason = models.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		finishReason = models.FinishLength
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		finishReason = models.FinishStop
	}
	if len(message.ToolCalls) > 0 {
		finishReason = models.FinishToolCalls
	}

	return message, finishReason
}

// classifyAnthropicError categorizes an Anthropic API error into the §7
// taxonomy, preferring the HTTP status code when the SDK surfaces one.
func classifyAnthropicError(err error) error {
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "context_length") || strings.Contains(errMsg, "too many tokens") {
		return models.NewError(models.KindUpstreamCorrupt, "context window exceeded: %v", err)
	}
	if apiErr, ok := err.(*anthropic.Error); ok {
		return classifyByStatusCode(apiErr.StatusCode, err)
	}
	if strings.Contains(errMsg, "rate_limit") || strings.Contains(errMsg, "rate limit") {
		return models.NewError(models.KindUnavailable, "rate limited: %v", err)
	}
	return models.NewError(models.KindUnavailable, "anthropic API error: %v", err)
}

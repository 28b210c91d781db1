package llmclient

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// OpenAIClient implements LLMClient against OpenAI's Chat Completions API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates an OpenAI client from OPENAI_API_KEY.
func NewOpenAIClient() *OpenAIClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	return &OpenAIClient{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

// Call sends request to OpenAI and returns the complete response.
func (c *OpenAIClient) Call(ctx context.Context, request LLMRequest) (LLMResponse, error) {
	messages := c.convertHistory(request)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.ModelConfig.Model),
		Messages: messages,
	}
	if request.ModelConfig.Temperature > 0 {
		params.Temperature = openai.Float(request.ModelConfig.Temperature)
	}
	if request.ModelConfig.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(request.ModelConfig.MaxTokens))
	}
	if len(request.Tools) > 0 {
		params.Tools = c.buildToolDefinitions(request.Tools)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return LLMResponse{}, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return LLMResponse{}, models.NewError(models.KindUpstreamCorrupt, "openai response had no choices")
	}

	choice := completion.Choices[0]
	message := models.Message{
		Role:    models.RoleAssistant,
		Content: choice.Message.Content,
	}
	finishReason := models.FinishStop

	if len(choice.Message.ToolCalls) > 0 {
		finishReason = models.FinishToolCalls
		message.ToolCalls = make([]models.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{"_raw": tc.Function.Arguments}
			}
			message.ToolCalls = append(message.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
	} else if choice.FinishReason == "length" {
		finishReason = models.FinishLength
	}

	return LLMResponse{
		Message:      message,
		FinishReason: finishReason,
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		ResponseID: completion.ID,
	}, nil
}

// Compact asks the model to summarize Input into a single system message.
func (c *OpenAIClient) Compact(ctx context.Context, request CompactRequest) (CompactResponse, error) {
	messages := c.convertHistory(LLMRequest{History: request.Input, SystemPrompt: request.Instructions})

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompactResponse{}, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return CompactResponse{}, models.NewError(models.KindUpstreamCorrupt, "openai compaction response had no choices")
	}

	summary := completion.Choices[0].Message.Content
	return CompactResponse{
		Messages: []models.Message{{Role: models.RoleSystem, Content: summary}},
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// convertHistory converts request history (plus an optional system prompt)
// into OpenAI's message format. A tool-result message must be preceded by
// the assistant message carrying the matching tool_calls entry, which is
// how models.Message already orders history.
func (c *OpenAIClient) convertHistory(request LLMRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.History)+1)

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, m := range request.History {
		switch m.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))

		case models.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					argsJSON, _ := json.Marshal(tc.Arguments)
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: string(argsJSON),
							},
						},
					})
				}
				assistantMsg := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
				if m.Content != "" {
					assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					}
				}
				messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistantMsg})
			} else {
				messages = append(messages, openai.AssistantMessage(m.Content))
			}

		case models.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))

		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		}
	}

	return messages
}

// buildToolDefinitions converts function-calling schemas (already shaped per
// §4.6's catalog-to-schema conversion) to OpenAI tool definitions.
func (c *OpenAIClient) buildToolDefinitions(specs []toolloader.FunctionSchema) []openai.ChatCompletionToolUnionParam {
	toolDefs := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		toolDefs = append(toolDefs, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: param.NewOpt(spec.Description),
			Parameters:  shared.FunctionParameters(spec.Parameters),
		}))
	}
	return toolDefs
}

// classifyError categorizes an OpenAI API error into the §7 taxonomy.
func classifyError(err error) error {
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "context_length") || strings.Contains(errMsg, "maximum context length") {
		return models.NewError(models.KindUpstreamCorrupt, "context window exceeded: %v", err)
	}
	if apiErr, ok := err.(*openai.Error); ok {
		return classifyByStatusCode(apiErr.StatusCode, err)
	}
	if strings.Contains(errMsg, "rate_limit") || strings.Contains(errMsg, "rate limit") {
		return models.NewError(models.KindUnavailable, "rate limited: %v", err)
	}
	return models.NewError(models.KindUnavailable, "openai API error: %v", err)
}

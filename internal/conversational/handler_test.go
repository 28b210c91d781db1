package conversational

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/orchestrator/internal/llmclient"
	"github.com/forgeflow/orchestrator/internal/mcpclient"
	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/sessionmem"
)

// fakeLLM returns scripted responses in order.
type fakeLLM struct {
	responses []llmclient.LLMResponse
	errs      []error
	calls     []llmclient.LLMRequest
}

func (f *fakeLLM) Call(ctx context.Context, req llmclient.LLMRequest) (llmclient.LLMResponse, error) {
	i := len(f.calls)
	f.calls = append(f.calls, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return llmclient.LLMResponse{}, f.errs[i]
	}
	if i >= len(f.responses) {
		return llmclient.LLMResponse{}, nil
	}
	return f.responses[i], nil
}

func (f *fakeLLM) Compact(ctx context.Context, req llmclient.CompactRequest) (llmclient.CompactResponse, error) {
	return llmclient.CompactResponse{}, nil
}

// chunkCollector records streamed content fragments.
type chunkCollector struct {
	chunks []string
}

func (c *chunkCollector) SendContent(content string) error {
	c.chunks = append(c.chunks, content)
	return nil
}

func newTestHandler(llm llmclient.LLMClient) (*Handler, *sessionmem.Store) {
	sessions := sessionmem.NewStore()
	return New(llm, sessions, mcpclient.NewMcpStore(), nil), sessions
}

func TestHandle_StreamsWordsAndRecordsHistory(t *testing.T) {
	llm := &fakeLLM{responses: []llmclient.LLMResponse{{
		Message:      models.Message{Role: models.RoleAssistant, Content: "the auth module lives in internal/auth"},
		FinishReason: models.FinishStop,
	}}}
	h, sessions := newTestHandler(llm)

	stream := &chunkCollector{}
	msg, err := h.Handle(context.Background(), Request{
		Message:   "what files use authentication?",
		SessionID: "s1",
	}, stream)
	require.NoError(t, err)
	assert.Equal(t, "the auth module lives in internal/auth", msg.Content)

	// Word-paced chunks reassemble to the exact response.
	assert.Greater(t, len(stream.chunks), 1)
	assert.Equal(t, msg.Content, strings.Join(stream.chunks, ""))

	// §4.3: the user and assistant turns land in session history atomically.
	items := sessions.GetOrCreate("s1").GetRawItems()
	require.Len(t, items, 2)
	assert.Equal(t, models.RoleUser, items[0].Role)
	assert.Equal(t, models.RoleAssistant, items[1].Role)

	// Exactly one LLM call when no tool calls are emitted.
	assert.Len(t, llm.calls, 1)
}

func TestHandle_PriorTurnsIncludedInPrompt(t *testing.T) {
	llm := &fakeLLM{responses: []llmclient.LLMResponse{
		{Message: models.Message{Role: models.RoleAssistant, Content: "first answer"}},
		{Message: models.Message{Role: models.RoleAssistant, Content: "second answer"}},
	}}
	h, _ := newTestHandler(llm)

	_, err := h.Handle(context.Background(), Request{Message: "first question", SessionID: "s1"}, nil)
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), Request{Message: "second question", SessionID: "s1"}, nil)
	require.NoError(t, err)

	require.Len(t, llm.calls, 2)
	second := llm.calls[1].History
	require.Len(t, second, 3) // prior user+assistant turn, then the new user message
	assert.Equal(t, "first question", second[0].Content)
	assert.Equal(t, "first answer", second[1].Content)
	assert.Equal(t, "second question", second[2].Content)
}

func TestHandle_ToolCallWithoutSessionFailsClassified(t *testing.T) {
	llm := &fakeLLM{responses: []llmclient.LLMResponse{{
		Message: models.Message{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "c1", Name: "fs.read", Arguments: map[string]interface{}{"path": "x"}}},
		},
		FinishReason: models.FinishToolCalls,
	}}}
	h, _ := newTestHandler(llm)

	_, err := h.Handle(context.Background(), Request{Message: "read the file", SessionID: "s1"}, nil)
	require.Error(t, err)
	oe, ok := err.(*models.OrchestratorError)
	require.True(t, ok)
	assert.Equal(t, models.KindNotFound, oe.Kind)
}

func TestHandle_UpstreamErrorClassifiedUnavailable(t *testing.T) {
	llm := &fakeLLM{errs: []error{assert.AnError}}
	h, sessions := newTestHandler(llm)

	_, err := h.Handle(context.Background(), Request{Message: "hello", SessionID: "s1"}, nil)
	require.Error(t, err)
	oe, ok := err.(*models.OrchestratorError)
	require.True(t, ok)
	assert.Equal(t, models.KindUnavailable, oe.Kind)

	// A failed turn must not pollute session history.
	assert.Empty(t, sessions.GetOrCreate("s1").GetRawItems())
}

func TestSplitKeepingSpaces_Reconstructs(t *testing.T) {
	for _, content := range []string{
		"one two three",
		"line one\nline two",
		"tabs\tcount\ttoo",
		"trailing space ",
		"single",
		"",
	} {
		chunks := splitKeepingSpaces(content)
		assert.Equal(t, content, strings.Join(chunks, ""), content)
	}
}

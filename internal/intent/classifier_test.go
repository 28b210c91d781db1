package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_ExplicitCommands(t *testing.T) {
	c := Classify("/execute deploy PR 123 to staging", false, "ask", nil)
	assert.NotNil(t, c.Command)
	assert.Equal(t, "execute", c.Command.Name)
	assert.Equal(t, "deploy PR 123 to staging", c.Command.Args)
	assert.Equal(t, RouteWorkflow, c.RoutingMode)
	assert.Equal(t, 1.0, c.Confidence)

	c = Classify("/help", false, "ask", nil)
	assert.NotNil(t, c.Command)
	assert.Equal(t, "help", c.Command.Name)
	assert.Empty(t, c.Command.Args)

	c = Classify("/status abc-123", false, "ask", nil)
	assert.NotNil(t, c.Command)
	assert.Equal(t, "status", c.Command.Name)
	assert.Equal(t, "abc-123", c.Command.Args)
}

func TestClassify_UnknownSlashPrefixIsNotACommand(t *testing.T) {
	c := Classify("/frobnicate everything", false, "ask", nil)
	assert.Nil(t, c.Command)
}

func TestClassify_QAShortCircuit(t *testing.T) {
	// §8 scenario S1: "what files use authentication?" is QA with
	// confidence >= 0.8 and routes to the conversational handler.
	c := Classify("what files use authentication?", false, "ask", nil)
	assert.Equal(t, IntentQA, c.Intent)
	assert.GreaterOrEqual(t, c.Confidence, 0.8)
	assert.Equal(t, RouteConversational, c.RoutingMode)
}

func TestClassify_SimpleTaskBeforeQAMarkers(t *testing.T) {
	// "show me X" matches the simple-task keyword list before the QA
	// markers (§4.2 rule 3 ordering).
	c := Classify("show me the open pull requests", false, "ask", nil)
	assert.Equal(t, IntentSimpleTask, c.Intent)
	assert.Equal(t, RouteConversational, c.RoutingMode)
}

func TestClassify_GreetingsAreQA(t *testing.T) {
	c := Classify("hello there", false, "ask", nil)
	assert.Equal(t, IntentQA, c.Intent)
	assert.Equal(t, RouteConversational, c.RoutingMode)
}

func TestClassify_HighRiskKeywords(t *testing.T) {
	c := Classify("deploy the release to production", false, "ask", nil)
	assert.Equal(t, IntentHigh, c.Intent)
	assert.Equal(t, RouteWorkflow, c.RoutingMode)
}

func TestClassify_AgentModeForcesWorkflow(t *testing.T) {
	c := Classify("what is the build status?", false, "agent", nil)
	assert.Equal(t, IntentQA, c.Intent)
	assert.Equal(t, RouteWorkflow, c.RoutingMode)
}

func TestClassify_EnhancedPromptQAOverride(t *testing.T) {
	// With prompt_enhanced and mode=ask, a conversational cue in the head
	// tokens forces QA even when later text carries task signals.
	c := Classify("explain this, then refactor the deploy pipeline", true, "ask", nil)
	assert.Equal(t, IntentQA, c.Intent)
	assert.Equal(t, RouteConversational, c.RoutingMode)
}

func TestClassify_NoKeywordDefaultsToWorkflow(t *testing.T) {
	c := Classify("the flurble needs grommeting", false, "ask", nil)
	assert.Equal(t, IntentMedium, c.Intent)
	assert.Less(t, c.Confidence, 0.75)
	assert.Equal(t, RouteWorkflow, c.RoutingMode)
	assert.True(t, c.ReviewRequested)
}

func TestClassify_FallbackConsultedOnlyBelowThreshold(t *testing.T) {
	calls := 0
	fallback := func(message string) (Intent, float64, string, error) {
		calls++
		return IntentQA, 0.9, "looks like a question", nil
	}

	// Confident heuristic result: fallback not consulted.
	Classify("what does this function do?", false, "ask", fallback)
	assert.Equal(t, 0, calls)

	// Ambiguous: fallback consulted and its verdict wins.
	c := Classify("the flurble needs grommeting", false, "ask", fallback)
	assert.Equal(t, 1, calls)
	assert.Equal(t, IntentQA, c.Intent)
	assert.Equal(t, 0.9, c.Confidence)
	assert.Equal(t, RouteConversational, c.RoutingMode)
}

func TestClassify_FallbackErrorKeepsHeuristic(t *testing.T) {
	fallback := func(message string) (Intent, float64, string, error) {
		return "", 0, "", assert.AnError
	}
	c := Classify("the flurble needs grommeting", false, "ask", fallback)
	assert.Equal(t, IntentMedium, c.Intent)
}

func TestClassify_HeuristicDeterminism(t *testing.T) {
	// §8 property 7: with the LLM fallback off, classifying the same
	// message twice yields identical (intent, confidence).
	messages := []string{
		"what files use authentication?",
		"find all TODO comments",
		"refactor the session cache",
		"deploy to production",
		"the flurble needs grommeting",
		"/execute build it",
	}
	for _, msg := range messages {
		first := Classify(msg, false, "ask", nil)
		second := Classify(msg, false, "ask", nil)
		assert.Equal(t, first.Intent, second.Intent, msg)
		assert.Equal(t, first.Confidence, second.Confidence, msg)
	}
}

func TestClassify_NeverMutatesMessage(t *testing.T) {
	msg := "  what is this?  "
	c := Classify(msg, false, "ask", nil)
	assert.Equal(t, IntentQA, c.Intent)
	assert.Equal(t, "  what is this?  ", msg)
}

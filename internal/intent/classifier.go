// Package intent implements the chat endpoint's routing decision (§4.2):
// explicit command parsing, enhanced-prompt QA detection, heuristic
// keyword classification, and an optional LLM fallback for low-confidence
// cases.
package intent

import (
	"strings"
)

// Intent is the classified message category.
type Intent string

const (
	IntentQA         Intent = "QA"
	IntentSimpleTask Intent = "SIMPLE_TASK"
	IntentMedium     Intent = "MEDIUM"
	IntentHigh       Intent = "HIGH"
)

// RoutingMode says which downstream handler the chat endpoint should invoke.
type RoutingMode string

const (
	RouteConversational RoutingMode = "conversational"
	RouteWorkflow       RoutingMode = "workflow"
)

// confidenceThreshold is §4.2's routing cutoff: QA/SIMPLE_TASK below this
// routes to the workflow engine instead of the conversational handler.
const confidenceThreshold = 0.75

// uncertaintyThreshold is §4.2's trace-annotation cutoff, looser than the
// routing cutoff so near-confident classifications still get flagged for
// offline review without being rerouted.
const uncertaintyThreshold = 0.8

// Classification is the metadata attached to a message; it never mutates
// the message itself (§4.2).
type Classification struct {
	Intent          Intent
	Confidence      float64
	Rationale       string
	RoutingMode     RoutingMode
	ReviewRequested bool

	// Command is set when the message matched an explicit command.
	Command *ParsedCommand
}

// ParsedCommand is the result of explicit-command parsing.
type ParsedCommand struct {
	Name string // "execute" | "help" | "status" | "cancel"
	Args string
}

var explicitCommands = map[string]string{
	"/execute": "execute",
	"/help":    "help",
	"/status":  "status",
	"/cancel":  "cancel",
}

// simpleTaskKeywords are checked before qaMarkers, so "show me X" classifies
// as SIMPLE_TASK rather than QA (§4.2 rule 3).
var simpleTaskKeywords = []string{"find", "search", "list", "show", "check"}

var qaMarkers = []string{"what", "how", "why", "explain", "hi", "hello", "hey", "is there", "are there"}

// mediumKeywords nudge toward a multi-step workflow without implying high
// risk (e.g. "refactor", "add a feature").
var mediumKeywords = []string{"refactor", "implement", "add", "write", "fix", "update", "migrate"}

// highKeywords imply higher-risk, multi-subtask work (deploys, infra, CI).
var highKeywords = []string{"deploy", "production", "infrastructure", "release", "provision", "rollback"}

// LLMFallback is called by Classify when heuristic confidence is below
// confidenceThreshold and the caller has enabled it
// (ENABLE_INTENT_LLM_FALLBACK). It must return a JSON-shaped verdict; the
// concrete LLM call lives in internal/llmclient, kept out of this package to
// avoid a dependency cycle with the provider clients.
type LLMFallback func(message string) (intent Intent, confidence float64, reasoning string, err error)

// Classify runs the §4.2 rule chain: explicit command, enhanced-prompt QA
// detection, heuristic classification, optional LLM fallback, then
// uncertainty flagging.
func Classify(message string, promptEnhanced bool, mode string, fallback LLMFallback) Classification {
	trimmed := strings.TrimSpace(message)

	if cmd, ok := parseExplicitCommand(trimmed); ok {
		return Classification{
			Intent:      IntentHigh,
			Confidence:  1.0,
			Rationale:   "explicit command",
			RoutingMode: RouteWorkflow,
			Command:     &cmd,
		}
	}

	if promptEnhanced && mode == "ask" && looksConversational(trimmed) {
		return finalize(IntentQA, 0.95, "enhanced-prompt conversational cue detected", mode)
	}

	in, confidence, rationale := heuristicClassify(trimmed)

	if confidence < confidenceThreshold && fallback != nil {
		if fbIntent, fbConfidence, fbReasoning, err := fallback(trimmed); err == nil {
			in, confidence, rationale = fbIntent, fbConfidence, "llm fallback: "+fbReasoning
		}
	}

	return finalize(in, confidence, rationale, mode)
}

func finalize(in Intent, confidence float64, rationale, mode string) Classification {
	c := Classification{
		Intent:     in,
		Confidence: confidence,
		Rationale:  rationale,
	}
	c.ReviewRequested = confidence < uncertaintyThreshold

	if mode == "agent" {
		c.RoutingMode = RouteWorkflow
		return c
	}
	if (in == IntentQA || in == IntentSimpleTask) && confidence >= confidenceThreshold {
		c.RoutingMode = RouteConversational
	} else {
		c.RoutingMode = RouteWorkflow
	}
	return c
}

func parseExplicitCommand(message string) (ParsedCommand, bool) {
	if !strings.HasPrefix(message, "/") {
		return ParsedCommand{}, false
	}
	fields := strings.SplitN(message, " ", 2)
	name, ok := explicitCommands[fields[0]]
	if !ok {
		return ParsedCommand{}, false
	}
	var args string
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}
	return ParsedCommand{Name: name, Args: args}, true
}

// looksConversational inspects the first 10 tokens for QA-style cues
// (§4.2 rule 2).
func looksConversational(message string) bool {
	tokens := strings.Fields(strings.ToLower(message))
	if len(tokens) > 10 {
		tokens = tokens[:10]
	}
	head := strings.Join(tokens, " ")
	for _, marker := range qaMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

func heuristicClassify(message string) (Intent, float64, string) {
	lower := strings.ToLower(message)

	if kw, ok := firstMatch(lower, simpleTaskKeywords); ok {
		return IntentSimpleTask, 0.85, "matched simple-task keyword " + kw
	}
	if kw, ok := firstMatch(lower, qaMarkers); ok {
		return IntentQA, 0.8, "matched QA marker " + kw
	}
	if kw, ok := firstMatch(lower, highKeywords); ok {
		return IntentHigh, 0.82, "matched high-risk keyword " + kw
	}
	if kw, ok := firstMatch(lower, mediumKeywords); ok {
		return IntentMedium, 0.7, "matched medium keyword " + kw
	}

	// No keyword matched: default to MEDIUM with low confidence so the
	// ambiguity fallback (or, absent that, the workflow engine) gets it.
	return IntentMedium, 0.5, "no keyword matched"
}

func firstMatch(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return kw, true
		}
	}
	return "", false
}

package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgeflow/orchestrator/internal/models"
)

// newEvent marshals payload and returns an Event with Seq left at zero — the
// checkpoint store assigns the real sequence number on append. Callers
// supply ts from a deterministic clock (workflow.Now in live execution).
func newEvent(kind models.EventKind, causingNode models.NodeName, ts time.Time, payload interface{}) models.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return models.Event{
		Kind:        kind,
		Payload:     raw,
		Timestamp:   ts,
		CausingNode: causingNode,
	}
}

// --- event payload shapes ---

type stateInitPayload struct {
	SessionID         models.SessionId `json:"session_id"`
	Instruction       string           `json:"instruction"`
	ConfigFingerprint string           `json:"config_fingerprint"`
}

type nodeEnteredPayload struct {
	Node models.NodeName `json:"node"`
}

type nodeExitedPayload struct {
	Node models.NodeName `json:"node"`
	Next models.NodeName `json:"next"`
}

type messageAppendedPayload struct {
	Message models.Message `json:"message"`
}

type subTaskUpdatedPayload struct {
	SubTask models.SubTask `json:"subtask"`
}

type toolInvokedPayload struct {
	CallID         string                 `json:"call_id"`
	Name           string                 `json:"name"`
	RedactedArgs   map[string]interface{} `json:"redacted_args"`
}

type toolResultedPayload struct {
	CallID         string `json:"call_id"`
	Status         string `json:"status"`
	PayloadExcerpt string `json:"payload_excerpt"`
}

type approvalRequestedPayload struct {
	Approval models.Approval `json:"approval"`
}

type approvalDecidedPayload struct {
	ApprovalID models.ApprovalId       `json:"approval_id"`
	Decision   models.ApprovalDecision `json:"decision"`
	Decider    string                  `json:"decider"`
	Reason     string                  `json:"reason"`
}

type failedPayload struct {
	Reason string `json:"reason"`
}

type completedPayload struct {
	FinalMessage string `json:"final_message"`
}

type cancelledPayload struct {
	Reason string `json:"reason"`
}

type captureInsightPayload struct {
	Insight models.Insight `json:"insight"`
}

type historyCompactedPayload struct {
	Summary      models.Message `json:"summary"`
	DroppedCount int            `json:"dropped_count"`
}

type toolSchemaWarningPayload struct {
	Tool string `json:"tool"`
	Note string `json:"note"`
}

// maxResultExcerptBytes bounds the tool-result excerpt recorded on a
// ToolResulted event (§4.7 "size-bounded result excerpt").
const maxResultExcerptBytes = 2048

func excerpt(payload map[string]interface{}) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	if len(raw) > maxResultExcerptBytes {
		return string(raw[:maxResultExcerptBytes]) + "...(truncated)"
	}
	return string(raw)
}

// redactArguments drops values for argument keys that look credential-
// shaped, keeping keys for debuggability. This is a conservative default;
// a tool-specific redaction policy is a §9 open question left unresolved.
func redactArguments(args map[string]interface{}) map[string]interface{} {
	redacted := make(map[string]interface{}, len(args))
	for k, v := range args {
		if looksSecret(k) {
			redacted[k] = "[redacted]"
			continue
		}
		redacted[k] = v
	}
	return redacted
}

func looksSecret(key string) bool {
	lower := key
	for _, needle := range []string{"secret", "password", "token", "key", "credential"} {
		if containsFold(lower, needle) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	toLower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	for i := range sl {
		sl[i] = toLower(sl[i])
	}
	for i := range subl {
		subl[i] = toLower(subl[i])
	}
	s, substr = string(sl), string(subl)
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Apply folds one event into state, advancing state.LastSeq. Apply is the
// sole fold function: given the same event log up to seq = n, repeated
// application from an empty state reproduces an identical snapshot (§4.4
// "Determinism and replay"), used (through Fold) by cmd/admin's replay
// subcommand independent of node execution.
func Apply(state *models.WorkflowState, ev models.Event) error {
	switch ev.Kind {
	case models.EventStateInit:
		var p stateInitPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply StateInit: %w", err)
		}
		state.WorkflowID = ev.WorkflowID
		state.SessionID = p.SessionID
		state.CreatedAt = ev.Timestamp
		state.Status = models.StatusRunning
		state.CurrentNode = models.NodeDelegateTask
		state.ConfigFingerprint = p.ConfigFingerprint
		state.Messages = []models.Message{{Role: models.RoleUser, Content: p.Instruction, Timestamp: ev.Timestamp}}

	case models.EventNodeEntered:
		var p nodeEnteredPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply NodeEntered: %w", err)
		}
		state.CurrentNode = p.Node

	case models.EventNodeExited:
		var p nodeExitedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply NodeExited: %w", err)
		}
		state.CurrentNode = p.Next

	case models.EventMessageAppended:
		var p messageAppendedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply MessageAppended: %w", err)
		}
		state.Messages = append(state.Messages, p.Message)

	case models.EventSubTaskUpdated:
		var p subTaskUpdatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply SubTaskUpdated: %w", err)
		}
		upsertSubTask(state, p.SubTask)

	case models.EventToolInvoked, models.EventToolResulted, models.EventToolSchemaWarning:
		// Recorded for audit/trace purposes only; none mutates WorkflowState
		// beyond what the surrounding MessageAppended/SubTaskUpdated events do.

	case models.EventApprovalRequested:
		var p approvalRequestedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply ApprovalRequested: %w", err)
		}
		approval := p.Approval
		state.Approval = &approval
		state.Status = models.StatusAwaitingApproval

	case models.EventApprovalDecided:
		var p approvalDecidedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply ApprovalDecided: %w", err)
		}
		if state.Approval != nil && state.Approval.ID == p.ApprovalID {
			decidedAt := ev.Timestamp
			state.Approval.Decision = &p.Decision
			state.Approval.Decider = p.Decider
			state.Approval.Reason = p.Reason
			state.Approval.DecidedAt = &decidedAt
			if p.Decision == models.DecisionApprove {
				state.RiskApproved = true
			}
		}
		state.Status = models.StatusRunning

	case models.EventCheckpointed:
		// No state change; marks a persistence boundary in the log.

	case models.EventFailed:
		var p failedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply Failed: %w", err)
		}
		state.Status = models.StatusFailed
		state.Messages = append(state.Messages, models.Message{
			Role: models.RoleSystem, Content: "workflow failed: " + p.Reason, Timestamp: ev.Timestamp,
		})

	case models.EventCompleted:
		var p completedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply Completed: %w", err)
		}
		state.Status = models.StatusCompleted
		state.Messages = append(state.Messages, models.Message{
			Role: models.RoleAssistant, Content: p.FinalMessage, Timestamp: ev.Timestamp,
		})

	case models.EventCancelled:
		var p cancelledPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply Cancelled: %w", err)
		}
		state.Status = models.StatusCancelled
		state.Messages = append(state.Messages, models.Message{
			Role: models.RoleSystem, Content: "workflow cancelled: " + p.Reason, Timestamp: ev.Timestamp,
		})

	case models.EventHistoryCompacted:
		var p historyCompactedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply HistoryCompacted: %w", err)
		}
		if p.DroppedCount > len(state.Messages) {
			p.DroppedCount = len(state.Messages)
		}
		state.Messages = append([]models.Message{p.Summary}, state.Messages[p.DroppedCount:]...)

	case models.EventCaptureInsight:
		var p captureInsightPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("apply CaptureInsight: %w", err)
		}
		state.CapturedInsights = append(state.CapturedInsights, p.Insight)

	default:
		return fmt.Errorf("apply: unknown event kind %q", ev.Kind)
	}

	state.LastSeq = ev.Seq
	state.UpdatedAt = ev.Timestamp
	return nil
}

func upsertSubTask(state *models.WorkflowState, st models.SubTask) {
	for i := range state.SubTasks {
		if state.SubTasks[i].ID == st.ID {
			state.SubTasks[i] = st
			return
		}
	}
	state.SubTasks = append(state.SubTasks, st)
}

// Fold replays events in order onto a zero-value WorkflowState (or a
// caller-supplied base, e.g. a prior snapshot) and returns the result.
func Fold(base models.WorkflowState, events []models.Event) (models.WorkflowState, error) {
	state := base
	for _, ev := range events {
		if err := Apply(&state, ev); err != nil {
			return state, err
		}
	}
	return state, nil
}

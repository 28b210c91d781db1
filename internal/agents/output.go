package agents

import (
	"encoding/json"
	"fmt"

	"github.com/forgeflow/orchestrator/internal/models"
)

// SupervisorPlan is the structured result the supervisor role must produce
// for delegate_task (§4.5): an ordered subtask list plus an initial risk
// estimate. A malformed result triggers one corrective retry, then fails
// the node — ParseSupervisorPlan is the detector for "malformed".
type SupervisorPlan struct {
	SubTasks []PlannedSubTask `json:"subtasks"`
	Risk     models.RiskLevel `json:"risk_level"`
}

type PlannedSubTask struct {
	AgentRole   models.AgentRole `json:"agent_role"`
	Description string           `json:"description"`
	DependsOn   []int            `json:"depends_on,omitempty"` // index into SubTasks, resolved by the caller
}

// ParseSupervisorPlan decodes and validates the supervisor's JSON output.
// A non-nil error means the result is malformed and the caller should
// retry once before failing delegate_task.
func ParseSupervisorPlan(raw string) (*SupervisorPlan, error) {
	var plan SupervisorPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("supervisor output is not valid JSON: %w", err)
	}
	if len(plan.SubTasks) == 0 {
		return nil, fmt.Errorf("supervisor output has no subtasks")
	}
	switch plan.Risk {
	case models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical:
	default:
		return nil, fmt.Errorf("supervisor output has invalid risk_level %q", plan.Risk)
	}
	for i, st := range plan.SubTasks {
		switch st.AgentRole {
		case models.RoleSupervisor, models.RoleFeatureDev, models.RoleCodeReview,
			models.RoleInfrastructure, models.RoleCICD, models.RoleDocumentation:
		default:
			return nil, fmt.Errorf("subtask %d has invalid agent_role %q", i, st.AgentRole)
		}
		for _, dep := range st.DependsOn {
			if dep < 0 || dep >= len(plan.SubTasks) {
				return nil, fmt.Errorf("subtask %d depends_on out-of-range index %d", i, dep)
			}
		}
	}
	return &plan, nil
}

// AgentOutputKind classifies what an agent role's turn produced, per §4.5's
// "each role must produce either a plain assistant message, a set of tool
// calls, or a structured subtask update".
type AgentOutputKind string

const (
	OutputMessage     AgentOutputKind = "message"
	OutputToolCalls   AgentOutputKind = "tool_calls"
	OutputSubTaskPlan AgentOutputKind = "subtask_plan"
)

// ClassifyOutput inspects an LLM response shape and returns which of the
// three output kinds it represents.
func ClassifyOutput(toolCalls []models.ToolCall, content string, role models.AgentRole) AgentOutputKind {
	if len(toolCalls) > 0 {
		return OutputToolCalls
	}
	if role == models.RoleSupervisor {
		return OutputSubTaskPlan
	}
	return OutputMessage
}

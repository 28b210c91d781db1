package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/orchestrator/internal/models"
)

func TestParseSupervisorPlan_Valid(t *testing.T) {
	raw := `{
		"subtasks": [
			{"agent_role": "infrastructure", "description": "deploy PR 123 to staging"},
			{"agent_role": "cicd", "description": "verify pipeline", "depends_on": [0]}
		],
		"risk_level": "high"
	}`

	plan, err := ParseSupervisorPlan(raw)
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, plan.Risk)
	require.Len(t, plan.SubTasks, 2)
	assert.Equal(t, models.RoleInfrastructure, plan.SubTasks[0].AgentRole)
	assert.Equal(t, []int{0}, plan.SubTasks[1].DependsOn)
}

func TestParseSupervisorPlan_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `plan: do things`,
		"no subtasks":     `{"subtasks": [], "risk_level": "low"}`,
		"bad risk":        `{"subtasks": [{"agent_role": "cicd", "description": "x"}], "risk_level": "extreme"}`,
		"bad role":        `{"subtasks": [{"agent_role": "wizard", "description": "x"}], "risk_level": "low"}`,
		"dep out of range": `{"subtasks": [{"agent_role": "cicd", "description": "x", "depends_on": [5]}], "risk_level": "low"}`,
	}
	for name, raw := range cases {
		_, err := ParseSupervisorPlan(raw)
		assert.Error(t, err, name)
	}
}

func TestClassifyOutput(t *testing.T) {
	calls := []models.ToolCall{{ID: "1", Name: "fs.read"}}
	assert.Equal(t, OutputToolCalls, ClassifyOutput(calls, "", models.RoleFeatureDev))
	assert.Equal(t, OutputSubTaskPlan, ClassifyOutput(nil, `{"subtasks":[]}`, models.RoleSupervisor))
	assert.Equal(t, OutputMessage, ClassifyOutput(nil, "done", models.RoleDocumentation))
}

func TestResolve_ModelSelection(t *testing.T) {
	byRole := map[string]string{"feature-dev": "claude-sonnet-4-5"}

	cfg, err := Resolve(models.RoleFeatureDev, byRole, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.NotEmpty(t, cfg.SystemPrompt)

	cfg, err = Resolve(models.RoleDocumentation, byRole, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)

	_, err = Resolve("unknown-role", byRole, "gpt-4o-mini")
	assert.Error(t, err)
}

func TestAll_CoversSixRoles(t *testing.T) {
	assert.Len(t, All(), 6)
}

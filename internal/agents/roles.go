// Package agents implements the agent node library (§4.5): one pure
// RoleConfig per fixed role, each a deterministic function of
// (WorkflowState, RoleConfig) producing a NodeOutput via the graph package.
// Prompt text and tool-profile names live here; nothing in this package
// calls an LLM or a tool directly — that happens in internal/graph, which
// imports RoleConfig to drive its agent executor nodes.
package agents

import (
	"fmt"

	"github.com/forgeflow/orchestrator/internal/models"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// RoleConfig supplies everything an agent executor node needs to run one
// role, per §4.5.
type RoleConfig struct {
	Role AgentRole

	// SystemPrompt is the role-specific instruction prefix. Wording is an
	// implementation detail; the contract is only that it exists and is
	// stable for a given role.
	SystemPrompt string

	// ToolProfile names the tool-profile this role is matched against by
	// the progressive tool loader's agent_profile strategy (§4.6).
	ToolProfile string

	// DefaultStrategy is the tool-loading strategy used when the caller
	// doesn't override it.
	DefaultStrategy toolloader.Strategy

	// Model is the model identifier resolved from config (LLM_MODEL_<role>);
	// populated by Resolve, not by the static table below.
	Model string
}

// AgentRole is an alias kept local to this package so callers can write
// agents.RoleFeatureDev etc. without importing models for role constants
// specifically, mirroring models.AgentRole one-for-one.
type AgentRole = models.AgentRole

// staticTable holds the prompt/tool-profile shape of each role; Model is
// filled in by Resolve from the process config.
var staticTable = map[AgentRole]RoleConfig{
	models.RoleSupervisor: {
		Role:            models.RoleSupervisor,
		SystemPrompt:    "You are the supervisor. Decompose the instruction into an ordered list of subtasks, assign each to exactly one agent role, and estimate the overall risk level.",
		ToolProfile:     "supervisor",
		DefaultStrategy: toolloader.Minimal,
	},
	models.RoleFeatureDev: {
		Role:            models.RoleFeatureDev,
		SystemPrompt:    "You are the feature-dev agent. Implement the assigned subtask by editing the repository; prefer small, focused changes.",
		ToolProfile:     "feature-dev",
		DefaultStrategy: toolloader.Progressive,
	},
	models.RoleCodeReview: {
		Role:            models.RoleCodeReview,
		SystemPrompt:    "You are the code-review agent. Inspect the relevant diff or files and report findings; you do not modify files.",
		ToolProfile:     "code-review",
		DefaultStrategy: toolloader.Progressive,
	},
	models.RoleInfrastructure: {
		Role:            models.RoleInfrastructure,
		SystemPrompt:    "You are the infrastructure agent. Propose and, once approved, apply deployment or IaC changes. Any change with real-world side effects is high risk.",
		ToolProfile:     "infrastructure",
		DefaultStrategy: toolloader.AgentProfile,
	},
	models.RoleCICD: {
		Role:            models.RoleCICD,
		SystemPrompt:    "You are the cicd agent. Configure or repair build and pipeline automation for the assigned subtask.",
		ToolProfile:     "cicd",
		DefaultStrategy: toolloader.AgentProfile,
	},
	models.RoleDocumentation: {
		Role:            models.RoleDocumentation,
		SystemPrompt:    "You are the documentation agent. Write or update markdown documentation for the assigned subtask; writes are limited to doc paths.",
		ToolProfile:     "documentation",
		DefaultStrategy: toolloader.Minimal,
	},
}

// Resolve returns the RoleConfig for role with Model populated from
// modelByRole (config.Config.ModelByRole), falling back to defaultModel
// when the role has no override.
func Resolve(role AgentRole, modelByRole map[string]string, defaultModel string) (RoleConfig, error) {
	cfg, ok := staticTable[role]
	if !ok {
		return RoleConfig{}, fmt.Errorf("unknown agent role %q", role)
	}
	if m, ok := modelByRole[string(role)]; ok && m != "" {
		cfg.Model = m
	} else {
		cfg.Model = defaultModel
	}
	return cfg, nil
}

// All returns every role's config, Model unresolved (empty). Used by
// catalog/profile tooling that needs the full role set, not a single
// resolved one.
func All() []RoleConfig {
	out := make([]RoleConfig, 0, len(staticTable))
	for _, cfg := range staticTable {
		out = append(out, cfg)
	}
	return out
}

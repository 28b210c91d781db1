package activities

import (
	"context"

	"github.com/forgeflow/orchestrator/internal/config"
)

// ConfigActivities exposes the immutable process config to workflow code.
// A workflow may not read os.Getenv or hold a *config.Config directly (not
// replay-safe across a worker restart with a different environment) so it
// fetches a snapshot once per run through this activity instead.
type ConfigActivities struct {
	cfg *config.Config
}

// NewConfigActivities creates a new ConfigActivities instance.
func NewConfigActivities(cfg *config.Config) *ConfigActivities {
	return &ConfigActivities{cfg: cfg}
}

// ConfigSnapshot is the subset of Config a workflow's nodes need to resolve
// models and tool-selection limits for the duration of one run.
type ConfigSnapshot struct {
	ModelByRole             map[string]string `json:"model_by_role"`
	DefaultModel            string            `json:"default_model"`
	MaxToolsPerRequest      int               `json:"max_tools_per_request"`
	MaxContextTokens        int               `json:"max_context_tokens"`
	MaxResponseTokens       int               `json:"max_response_tokens"`
	ApprovalDeadlineSeconds int               `json:"approval_deadline_seconds"`
	ConfigFingerprint       string            `json:"config_fingerprint"`
}

// LoadConfigSnapshot returns the resolved configuration the interpreter
// threads through every node invocation for this workflow run.
func (a *ConfigActivities) LoadConfigSnapshot(ctx context.Context) (ConfigSnapshot, error) {
	return ConfigSnapshot{
		ModelByRole:             a.cfg.ModelByRole,
		DefaultModel:            a.cfg.DefaultModel,
		MaxToolsPerRequest:      a.cfg.MaxToolsPerRequest,
		MaxContextTokens:        a.cfg.MaxContextTokens,
		MaxResponseTokens:       a.cfg.MaxResponseTokens,
		ApprovalDeadlineSeconds: a.cfg.ApprovalDeadlineSeconds,
		ConfigFingerprint:       a.cfg.Fingerprint(),
	}, nil
}

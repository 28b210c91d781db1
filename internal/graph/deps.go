package graph

import "github.com/forgeflow/orchestrator/internal/toolloader"

// NodeDeps bundles everything a node implementation needs beyond the
// WorkflowState it is handed: a config snapshot fetched once per workflow
// run via the LoadConfigSnapshot activity, and the MCP tool catalog fetched
// via InitializeMcpServers. Neither is persisted on WorkflowState — both
// recompute identically on replay since the activity calls themselves
// replay deterministically (§4.4 "Determinism and replay").
type NodeDeps struct {
	ModelByRole             map[string]string
	DefaultModel            string
	MaxToolsPerRequest      int
	MaxContextTokens        int
	MaxResponseTokens       int
	ApprovalDeadlineSeconds int

	Catalog []toolloader.ToolSpec
}

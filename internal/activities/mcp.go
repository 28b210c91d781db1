package activities

import (
	"context"
	"fmt"

	"github.com/forgeflow/orchestrator/internal/mcpclient"
	"github.com/forgeflow/orchestrator/internal/toolloader"
)

// McpActivities contains the MCP tool client's discovery/cleanup activities.
type McpActivities struct {
	store *mcpclient.McpStore
	// defaultServers is the catalog loaded once at worker startup from
	// MCP_SERVERS_CONFIG_FILE; used whenever a workflow doesn't supply its
	// own override (the common case — every workflow today runs the
	// process-wide server set).
	defaultServers map[string]mcpclient.McpServerConfig
}

// NewMcpActivities creates a new McpActivities instance.
func NewMcpActivities(store *mcpclient.McpStore, defaultServers map[string]mcpclient.McpServerConfig) *McpActivities {
	return &McpActivities{store: store, defaultServers: defaultServers}
}

// InitializeMcpServersInput is the input for the InitializeMcpServers activity.
type InitializeMcpServersInput struct {
	SessionID string `json:"session_id"`
	// McpServers overrides the worker's default server set when non-nil;
	// left unset, every GraphWorkflow run uses the process-wide catalog.
	McpServers map[string]mcpclient.McpServerConfig `json:"mcp_servers,omitempty"`
}

// InitializeMcpServersOutput is the output from the InitializeMcpServers
// activity: the catalog the progressive tool loader (§4.6) selects from.
type InitializeMcpServersOutput struct {
	Catalog  []toolloader.ToolSpec `json:"catalog"`
	Failures map[string]string     `json:"failures"`
}

// InitializeMcpServers starts all MCP server connections for a session,
// discovers their tools, and returns the catalog the tool loader selects
// from for every node invocation in this workflow.
func (a *McpActivities) InitializeMcpServers(ctx context.Context, input InitializeMcpServersInput) (InitializeMcpServersOutput, error) {
	mgr := a.store.GetOrCreate(input.SessionID)

	servers := input.McpServers
	if servers == nil {
		servers = a.defaultServers
	}

	result, err := mgr.Initialize(ctx, servers)
	if err != nil {
		return InitializeMcpServersOutput{}, fmt.Errorf("MCP initialization failed: %w", err)
	}

	catalog := make([]toolloader.ToolSpec, 0, len(result.ToolSpecs))
	for _, spec := range result.ToolSpecs {
		catalog = append(catalog, toolloader.ToolSpec{
			Name:        spec.QualifiedName,
			Server:      spec.ServerName,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
			Tags:        deriveTags(spec),
		})
	}

	return InitializeMcpServersOutput{
		Catalog:  catalog,
		Failures: result.Failures,
	}, nil
}

// deriveTags seeds §4.6's tag-based ranking from the information the MCP
// gateway already gives us: server name and, for read-only tools, a
// "read-only" tag useful to code-review's tool profile.
func deriveTags(spec mcpclient.McpToolSpec) []string {
	tags := []string{spec.ServerName}
	if spec.ReadOnly {
		tags = append(tags, "read-only")
	}
	return tags
}

// CleanupMcpServersInput is the input for the CleanupMcpServers activity.
type CleanupMcpServersInput struct {
	SessionID string `json:"session_id"`
}

// CleanupMcpServers closes all MCP connections for a session. Called when
// the workflow completes.
func (a *McpActivities) CleanupMcpServers(ctx context.Context, input CleanupMcpServersInput) error {
	a.store.Remove(input.SessionID)
	return nil
}

// Package toolloader implements the progressive tool loader (§4.6): given a
// catalog of tool descriptors and a selection strategy, it returns an
// ordered, size-bounded list of tools with schemas ready for function
// calling.
package toolloader

// ToolSpec describes one tool entry in the catalog, gathered from the MCP
// tool client's discovery pass (internal/mcpclient.McpToolSpec) or a static
// catalog file.
type ToolSpec struct {
	Name          string                 `json:"name" yaml:"name"`
	Server        string                 `json:"server" yaml:"server"`
	Description   string                 `json:"description" yaml:"description"`
	InputSchema   map[string]interface{} `json:"input_schema" yaml:"input_schema"`
	Tags          []string               `json:"tags" yaml:"tags"`
	AgentProfiles map[string]bool        `json:"agent_profiles" yaml:"agent_profiles"`
}

// FunctionSchema is a tool translated into the LLM provider's function-call
// schema shape (§4.6 "Schema conversion").
type FunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// SelectedTool pairs a catalog entry with its converted function schema and
// the rank it was selected at, for trace/observability purposes.
type SelectedTool struct {
	Spec   ToolSpec
	Schema FunctionSchema
	Rank   int
}

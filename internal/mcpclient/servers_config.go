package mcpclient

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServersConfigFile is the on-disk shape of the MCP server catalog: a map of
// server name to its connection config, loaded once at worker startup and
// handed to every session's InitializeMcpServers call.
type ServersConfigFile struct {
	Servers map[string]McpServerConfig `yaml:"servers"`
}

// LoadServersConfig reads path as YAML into a server-name -> config map. A
// missing file is not an error — it yields an empty catalog, matching a
// deployment that runs with no MCP tool servers configured.
func LoadServersConfig(path string) (map[string]McpServerConfig, error) {
	if path == "" {
		return map[string]McpServerConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]McpServerConfig{}, nil
		}
		return nil, fmt.Errorf("read mcp servers config %s: %w", path, err)
	}

	var file ServersConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mcp servers config %s: %w", path, err)
	}
	if file.Servers == nil {
		file.Servers = map[string]McpServerConfig{}
	}
	return file.Servers, nil
}

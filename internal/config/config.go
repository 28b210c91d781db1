// Package config loads the process-wide ORCHESTRATOR_* environment surface
// (§6) into a single immutable record. Every worker, activity, and HTTP
// handler receives a *Config explicitly, per §9's "Global configuration"
// design note. Outside this file, os.Getenv is read only for LISTEN_ADDR
// (cmd/server), WORKER_METRICS_ADDR (cmd/worker), and the provider API
// keys (internal/llmclient).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ToolLoadingStrategy enumerates §4.6's four selection strategies.
type ToolLoadingStrategy string

const (
	StrategyMinimal      ToolLoadingStrategy = "minimal"
	StrategyAgentProfile ToolLoadingStrategy = "agent_profile"
	StrategyProgressive  ToolLoadingStrategy = "progressive"
	StrategyFull         ToolLoadingStrategy = "full"
)

func parseStrategy(s string) (ToolLoadingStrategy, error) {
	switch ToolLoadingStrategy(s) {
	case StrategyMinimal, StrategyAgentProfile, StrategyProgressive, StrategyFull:
		return ToolLoadingStrategy(s), nil
	default:
		return "", fmt.Errorf("invalid TOOL_LOADING_STRATEGY %q", s)
	}
}

// Config is the immutable, process-wide configuration record. Construct it
// once via Load and pass it down explicitly; never stash it in a package
// global.
type Config struct {
	// APIKey, when non-empty, is the single shared key the HTTP front door
	// compares in constant time. Empty disables auth (local dev only).
	APIKey string

	// DBURL is the checkpoint store's SQL connection string.
	DBURL string

	// LLMProviderURL / LLMProviderKey select the default LLM endpoint and
	// credential; per-role model ids come from ModelByRole.
	LLMProviderURL string
	LLMProviderKey string
	// ModelByRole maps an agents.Role name to a model identifier, sourced
	// from LLM_MODEL_<ROLE> environment variables.
	ModelByRole map[string]string
	// DefaultModel is used for any role with no LLM_MODEL_<ROLE> override.
	DefaultModel string

	ToolGatewayURL      string
	ToolLoadingStrategy ToolLoadingStrategy
	MaxToolsPerRequest  int
	// McpServersConfigFile points at the YAML file describing the MCP tool
	// servers every workflow connects to (internal/mcpclient.LoadServersConfig).
	McpServersConfigFile string

	MaxContextTokens  int
	MaxResponseTokens int

	ApprovalDeadlineSeconds int
	ApprovalPollSeconds     int
	ApprovalTrackerURL      string

	EnableIntentLLMFallback bool

	KeepaliveIntervalSeconds int
	TraceSampling            float64
}

// roleNames is the enumerated set of LLM_MODEL_<role> suffixes this repo
// recognizes (§4.5's six agent roles).
var roleNames = []string{
	"supervisor", "feature-dev", "code-review", "infrastructure", "cicd", "documentation",
}

// Load reads a local .env (if present, via godotenv, ignored silently when
// absent) then the process environment, and returns one fully-resolved
// Config. It fails closed: any malformed enumerated value is an error
// rather than a silent default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:             os.Getenv("ORCHESTRATOR_API_KEY"),
		DBURL:              os.Getenv("DB_URL"),
		LLMProviderURL:     os.Getenv("LLM_PROVIDER_URL"),
		LLMProviderKey:     os.Getenv("LLM_PROVIDER_KEY"),
		ToolGatewayURL:     os.Getenv("TOOL_GATEWAY_URL"),
		ApprovalTrackerURL: os.Getenv("APPROVAL_TRACKER_URL"),
	}
	cfg.McpServersConfigFile = envOr("MCP_SERVERS_CONFIG_FILE", "mcp_servers.yaml")

	cfg.DefaultModel = envOr("LLM_DEFAULT_MODEL", "gpt-4o-mini")

	cfg.ModelByRole = make(map[string]string, len(roleNames))
	for _, role := range roleNames {
		envKey := "LLM_MODEL_" + strings.ToUpper(strings.ReplaceAll(role, "-", "_"))
		if v := os.Getenv(envKey); v != "" {
			cfg.ModelByRole[role] = v
		}
	}

	strategy, err := parseStrategy(envOr("TOOL_LOADING_STRATEGY", string(StrategyProgressive)))
	if err != nil {
		return nil, err
	}
	cfg.ToolLoadingStrategy = strategy

	if cfg.MaxToolsPerRequest, err = intEnvOr("MAX_TOOLS_PER_REQUEST", 30); err != nil {
		return nil, err
	}
	if cfg.MaxContextTokens, err = intEnvOr("MAX_CONTEXT_TOKENS", 128_000); err != nil {
		return nil, err
	}
	if cfg.MaxResponseTokens, err = intEnvOr("MAX_RESPONSE_TOKENS", 4_096); err != nil {
		return nil, err
	}
	if cfg.ApprovalDeadlineSeconds, err = intEnvOr("APPROVAL_DEADLINE_SECONDS", 24*3600); err != nil {
		return nil, err
	}
	if cfg.ApprovalPollSeconds, err = intEnvOr("APPROVAL_POLL_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.KeepaliveIntervalSeconds, err = intEnvOr("KEEPALIVE_INTERVAL_SECONDS", 15); err != nil {
		return nil, err
	}

	if cfg.EnableIntentLLMFallback, err = boolEnvOr("ENABLE_INTENT_LLM_FALLBACK", false); err != nil {
		return nil, err
	}

	if cfg.TraceSampling, err = floatEnvOr("TRACE_SAMPLING", 0.0); err != nil {
		return nil, err
	}
	if cfg.TraceSampling < 0.0 || cfg.TraceSampling > 1.0 {
		return nil, fmt.Errorf("TRACE_SAMPLING must be in [0.0, 1.0], got %v", cfg.TraceSampling)
	}

	return cfg, nil
}

// ModelFor resolves the model identifier for an agent role. It returns ""
// when no role-specific override is set.
func (c *Config) ModelFor(role string) string {
	if m, ok := c.ModelByRole[role]; ok {
		return m
	}
	return ""
}

// Fingerprint computes WorkflowState.ConfigFingerprint (§9 supplemented
// feature) over the resolved model-by-role selection and tool-loading
// strategy, so a replayed workflow can detect a config change mid-flight.
func (c *Config) Fingerprint() string {
	roles := make([]string, 0, len(c.ModelByRole))
	for r := range c.ModelByRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)

	h := sha256.New()
	fmt.Fprintf(h, "strategy=%s;max_tools=%d;", c.ToolLoadingStrategy, c.MaxToolsPerRequest)
	for _, r := range roles {
		fmt.Fprintf(h, "%s=%s;", r, c.ModelByRole[r])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnvOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnvOr(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func boolEnvOr(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

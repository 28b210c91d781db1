package toolloader

import (
	"sort"
	"strings"
)

// Strategy mirrors config.ToolLoadingStrategy without importing
// internal/config, keeping this package dependency-free of the process
// config record.
type Strategy string

const (
	Minimal      Strategy = "minimal"
	AgentProfile Strategy = "agent_profile"
	Progressive  Strategy = "progressive"
	Full         Strategy = "full"
)

const (
	minimalCap = 15
	profileCap = 40
)

// SelectionInput gathers everything §4.6 ranking needs.
type SelectionInput struct {
	Catalog         []ToolSpec
	Strategy        Strategy
	Role            string
	Message         string
	SubtaskDesc     string
	MaxTools        int
	PriorUseCounts  map[string]int // tool name -> invocations so far this workflow
}

// Select runs one of the four strategies and returns ranked, deduped,
// capped results, never more than MaxTools when MaxTools is positive. It
// returns no warnings; tools without a safe schema translation are dropped
// later, by the caller's ToFunctionSchema step.
func Select(in SelectionInput) []ToolSpec {
	keywords := extractKeywords(in.Message, in.SubtaskDesc)

	var candidates []ToolSpec
	switch in.Strategy {
	case Minimal:
		candidates = capped(dedup(filterByTags(in.Catalog, keywords)), minimalCap)
	case AgentProfile:
		candidates = capped(dedup(filterByProfile(in.Catalog, in.Role)), profileCap)
	case Progressive:
		merged := append(filterByTags(in.Catalog, keywords), filterByProfile(in.Catalog, in.Role)...)
		candidates = capped(dedup(merged), in.MaxTools)
	case Full:
		candidates = capped(dedup(in.Catalog), in.MaxTools)
	default:
		candidates = capped(dedup(in.Catalog), in.MaxTools)
	}
	candidates = capped(candidates, in.MaxTools)

	rank(candidates, keywords, in.Role, in.PriorUseCounts)
	return candidates
}

func extractKeywords(message, subtaskDesc string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(message + " " + subtaskDesc)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) >= 3 {
			out[w] = true
		}
	}
	return out
}

func filterByTags(catalog []ToolSpec, keywords map[string]bool) []ToolSpec {
	var out []ToolSpec
	for _, t := range catalog {
		for _, tag := range t.Tags {
			if keywords[strings.ToLower(tag)] {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func filterByProfile(catalog []ToolSpec, role string) []ToolSpec {
	var out []ToolSpec
	for _, t := range catalog {
		if t.AgentProfiles[role] {
			out = append(out, t)
		}
	}
	return out
}

func dedup(tools []ToolSpec) []ToolSpec {
	seen := make(map[string]bool, len(tools))
	out := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}

func capped(tools []ToolSpec, max int) []ToolSpec {
	if max <= 0 || len(tools) <= max {
		return tools
	}
	return tools[:max]
}

// rank orders tools in place per §4.6: exact-tag match, then role-profile
// match, then prior-use frequency, then alphabetical, with stable ties.
func rank(tools []ToolSpec, keywords map[string]bool, role string, priorUse map[string]int) {
	score := func(t ToolSpec) (tagHit, profileHit bool, uses int) {
		for _, tag := range t.Tags {
			if keywords[strings.ToLower(tag)] {
				tagHit = true
				break
			}
		}
		profileHit = t.AgentProfiles[role]
		uses = priorUse[t.Name]
		return
	}

	sort.SliceStable(tools, func(i, j int) bool {
		ti, pi, ui := score(tools[i])
		tj, pj, uj := score(tools[j])
		if ti != tj {
			return ti
		}
		if pi != pj {
			return pi
		}
		if ui != uj {
			return ui > uj
		}
		return tools[i].Name < tools[j].Name
	})
}

package engine

import "sort"

// ApplyExclusions removes every node matched by the policy and every node that
// is no longer reachable from the entry point. A node still reachable through
// any path that avoids excluded nodes is retained.
//
// Matching is a pure predicate over names, so the result does not depend on
// the order of the patterns. Patterns that match nothing are reported, not
// treated as errors. The entry point is never excluded.
func ApplyExclusions(graph *ModuleGraph, policy ExclusionPolicy) (*ModuleGraph, *ExclusionReport) {
	report := &ExclusionReport{
		Excluded:       make([]string, 0),
		Pruned:         make([]string, 0),
		UnusedPatterns: make([]string, 0),
	}

	used := make(map[string]bool, len(policy.Patterns))
	excluded := make(map[string]bool)
	for _, name := range graph.Names() {
		if name == graph.Entry {
			continue
		}
		for _, pattern := range policy.Patterns {
			if matchPattern(pattern, name) {
				used[pattern] = true
				excluded[name] = true
			}
		}
	}

	for _, pattern := range policy.Patterns {
		if !used[pattern] {
			report.UnusedPatterns = append(report.UnusedPatterns, pattern)
		}
	}

	keep := graph.Reachable(func(name string) bool { return excluded[name] })

	for _, name := range graph.Names() {
		switch {
		case keep[name]:
		case excluded[name]:
			report.Excluded = append(report.Excluded, name)
		default:
			report.Pruned = append(report.Pruned, name)
		}
	}
	sort.Strings(report.UnusedPatterns)

	filtered := graph.Subgraph(keep)
	report.Retained = filtered.Len()
	return filtered, report
}

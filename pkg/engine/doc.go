// Package engine provides the core types of the froyopack build pipeline.
//
// # Overview
//
// froyopack packages a program, the modules it imports and its resources
// into one executable. A build runs these stages in order (see Stages):
//
//  1. Config - Load and validate the build configuration
//  2. Graph - Discover every module reachable from the entry point (GraphBuilder)
//  3. Filter - Remove excluded modules and what only they reach (ApplyExclusions)
//  4. Policy - Evaluate build policies over the filtered graph
//  5. Embed - Encode the icon and read bundled data files
//  6. Assemble - Compress entries and build the payload index
//  7. Write - Append the payload to the bootstrap stub atomically
//
// This package owns stages 2 and 3 together with the types every stage
// shares; the pipeline itself lives in package build.
//
// # Module Graph
//
// A ModuleGraph is a directed graph of ModuleNode values keyed by canonical
// module name. Cycles are legal. GraphBuilder fills the graph in parallel on
// a bounded worker pool, asking an Analyzer for the direct references of
// each module exactly once. References that cannot be located become
// unresolved nodes and graph warnings instead of errors.
//
// # Exclusions
//
// An ExclusionPolicy is a set of name patterns. "x" matches x and every
// module beneath it; "x*" matches any name starting with x. ApplyExclusions
// removes matched nodes, then keeps exactly the nodes still reachable from
// the entry through non-excluded nodes:
//
//	filtered, report := engine.ApplyExclusions(graph, engine.NewExclusionPolicy("tests"))
//	log.Info().Int("removed", report.Removed()).Msg("exclusions applied")
//
// # Error Classification
//
// Every failure is a *PackError carrying an ErrorClass. Configuration and
// missing-resource errors abort the build before anything is written;
// graph, policy and cleanup warnings are collected and never escalated:
//
//	var pe *engine.PackError
//	if errors.As(err, &pe) && engine.IsWarning(pe) {
//	    record.Warnings = append(record.Warnings, pe)
//	}
//
// # Thread Safety
//
// ModuleGraph is safe for concurrent use. Analyzer implementations must be
// too, since GraphBuilder calls them from several goroutines.
package engine

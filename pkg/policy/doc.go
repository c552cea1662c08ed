// Package policy evaluates Rego build policies against the manifest of an
// artifact before anything is written.
//
// A policy is one Rego package. The engine queries the whole package and
// reads three optional rules from it:
//
//	deny     findings that fail the build (or warn, when the policy or the
//	         finding itself carries severity "warning")
//	warn     findings reported in the build report, never blocking
//	exclude  module names or patterns removed from the dependency graph
//
// The input document is an Input: the artifact name, entry point, layout,
// extraction strategy, the configured resources and every module of the
// graph with its kind, logical path and size.
//
//	package froyopack.policies.notests
//
//	exclude contains m.name if {
//		some m in input.modules
//		endswith(m.name, "_test")
//	}
//
// Two policies are built in: bundled-secrets denies resources and data files
// that look like credentials, and large-modules warns about modules over
// 64 MiB. Policies loaded from files with the same name replace them.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, cfg.Policies); err != nil {
//		return err
//	}
//
//	result, err := eng.Evaluate(ctx, policy.Input{Name: "app"}.WithGraph(graph))
//	if err != nil {
//		return err
//	}
//	if err := result.Err(); err != nil {
//		return err // build denied
//	}
//
// Loader.Watch reloads policy files on change and hands them to
// Engine.SetPolicies, which swaps the whole set or nothing.
package policy

// Package config loads and validates froyopack build configurations.
//
// # Overview
//
// A build configuration names the artifact, its entry point, the modules to
// exclude, the resources to embed and the output layout. It can be written
// in any of five formats, selected by file extension:
//
//   - .cue: unified with the built-in #BuildConfig schema, which also
//     supplies the defaults
//   - .yaml, .yml, .toml, .json: decoded over Defaults() with unknown
//     fields rejected
//   - .star: a Starlark script whose public globals are the fields
//
// Every format is then checked with struct tags (go-playground/validator)
// and the cross-field rules tags cannot express. Load resolves relative
// paths against the configuration file's directory.
//
// # CUE Configuration
//
//	name:  "inventory"
//	entry: "main.star"
//
//	resources: [
//	    {name: "favicon.ico", source: "favicon.ico", mode: "both"},
//	    {name: "data/items.json", source: "items.json", mode: "bundled-data"},
//	]
//
//	exclude: ["tests", "*.debug"]
//	onefile: true
//
// # Starlark Configuration
//
// Globals starting with an underscore and functions are ignored. Two
// builtins are available besides struct(): env(name, default=None) reads
// an environment variable and glob(pattern, ...) lists files relative to
// the configuration directory.
//
//	name = env("APP_NAME", "inventory")
//	entry = "main.star"
//
//	resources = [
//	    struct(name = "data/" + f, source = f, mode = "bundled-data")
//	    for f in glob("*.json")
//	]
//
// Evaluation is bounded by DefaultStarlarkTimeout; print() output is
// discarded and load() is refused.
//
// # Error Handling
//
// Every failure is an engine ConfigError. Per-field details, with file
// positions where the format provides them, are available through
// ValidationErrors:
//
//	if errs := config.ValidationErrors(err); len(errs) > 0 {
//	    for _, e := range errs {
//	        fmt.Println(e)
//	    }
//	}
package config

package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("build", builtinBuildSchema); err != nil {
		panic(fmt.Sprintf("built-in build schema does not compile: %v", err))
	}

	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Definition returns the #BuildConfig definition of the build schema.
func (sr *SchemaRegistry) Definition() cue.Value {
	schema, _ := sr.GetSchema("build")
	return schema.LookupPath(cue.ParsePath("#BuildConfig"))
}

// ListSchemas returns the names of all registered schemas.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context returns the CUE context the schemas were compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// builtinBuildSchema is the schema every CUE build configuration is unified with.
const builtinBuildSchema = `
#Resource: {
	name:   string & !=""
	source: string & !=""
	mode:   "native-icon" | "bundled-data" | "both"
}

#Publish: {
	host:         string & !=""
	port:         int & >=1 & <=65535 | *22
	user:         string & !=""
	key?:         string
	password?:    string
	known_hosts?: string
	remote_dir:   string & !=""
	insecure:     bool | *false
}

#BuildConfig: {
	name:         string & =~"^[A-Za-z0-9][A-Za-z0-9._-]*$"
	entry:        string & !=""
	kind?:        "python" | "starlark"
	paths:        [...string] | *[]
	resources:    [...#Resource] | *[]
	exclude:      [...string] | *[]
	onefile:      bool | *true
	console:      bool | *true
	icon_encoder: string | *"group-icon"
	stub?:        string
	extract:      "extract" | "memory" | *"extract"
	interpreter:  [...string] | *["python3"]
	policies:     [...string] | *[]
	dist_dir:     string | *"dist"
	work_dir:     string | *"build"
	jobs:         int & >=0 | *0
	publish?:     #Publish
}
`

// ScaffoldCUE is the configuration written by "froyopack init".
const ScaffoldCUE = `// froyopack build configuration
name:  "app"
entry: "main.star"

resources: [
	{name: "favicon.ico", source: "favicon.ico", mode: "both"},
]

exclude: [
	"test*",
]

onefile: true
console: false
`

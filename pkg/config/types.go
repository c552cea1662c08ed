package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/resources"
)

// Format identifies the syntax of a build configuration file.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"

	// FormatStarlark configurations are scripts whose globals name the fields.
	FormatStarlark Format = "starlark"
)

// FormatForPath infers the configuration format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	case ".star":
		return FormatStarlark, nil
	default:
		return "", engine.NewConfigError(fmt.Sprintf("unsupported configuration format %q", filepath.Ext(path)), nil).
			WithPath(path)
	}
}

// Runtime extraction strategies.
const (
	ExtractToDisk = "extract"
	ExtractMemory = "memory"
)

// BuildConfig is the complete description of one artifact build.
type BuildConfig struct {
	// Name is the output artifact name.
	Name string `json:"name" yaml:"name" toml:"name" validate:"required,excludesall=/\\"`

	// Entry is the entry-point file of the program.
	Entry string `json:"entry" yaml:"entry" toml:"entry" validate:"required"`

	// Kind is the program kind (python, starlark). Inferred from Entry when empty.
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty" validate:"omitempty,oneof=python starlark"`

	// Paths are extra module search paths.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty" toml:"paths,omitempty"`

	// Resources are the auxiliary files to embed.
	Resources []ResourceConfig `json:"resources,omitempty" yaml:"resources,omitempty" toml:"resources,omitempty" validate:"dive"`

	// Exclude lists module name patterns to prune from the graph.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty" toml:"exclude,omitempty"`

	// Onefile selects single-file output; false produces a directory with an _internal folder.
	Onefile bool `json:"onefile" yaml:"onefile" toml:"onefile"`

	// Console attaches a console window at runtime.
	Console bool `json:"console" yaml:"console" toml:"console"`

	// IconEncoder selects the native icon encoding (group-icon, icns, wasm:<path>).
	IconEncoder string `json:"icon_encoder,omitempty" yaml:"icon_encoder,omitempty" toml:"icon_encoder,omitempty"`

	// Stub is the bootstrap binary prepended to the payload. Defaults to the running froyopack binary.
	Stub string `json:"stub,omitempty" yaml:"stub,omitempty" toml:"stub,omitempty"`

	// Extract is the runtime strategy: extract to a temp dir or serve from memory.
	Extract string `json:"extract,omitempty" yaml:"extract,omitempty" toml:"extract,omitempty" validate:"omitempty,oneof=extract memory"`

	// Interpreter is the command used to run python programs.
	Interpreter []string `json:"interpreter,omitempty" yaml:"interpreter,omitempty" toml:"interpreter,omitempty"`

	// Policies are extra Rego policy files or directories.
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty" toml:"policies,omitempty"`

	// DistDir is where artifacts are written.
	DistDir string `json:"dist_dir,omitempty" yaml:"dist_dir,omitempty" toml:"dist_dir,omitempty"`

	// WorkDir holds intermediate build files.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`

	// Jobs is the number of parallel discovery workers. Zero means one per CPU.
	Jobs int `json:"jobs,omitempty" yaml:"jobs,omitempty" toml:"jobs,omitempty" validate:"gte=0"`

	// Publish configures artifact upload.
	Publish *PublishConfig `json:"publish,omitempty" yaml:"publish,omitempty" toml:"publish,omitempty"`

	// SourcePath is the file the configuration was loaded from.
	SourcePath string `json:"-" yaml:"-" toml:"-"`
}

// ResourceConfig declares one auxiliary file.
type ResourceConfig struct {
	// Name is the logical name the program uses to look the resource up.
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`

	// Source is the file on disk.
	Source string `json:"source" yaml:"source" toml:"source" validate:"required"`

	// Mode is native-icon, bundled-data or both.
	Mode string `json:"mode" yaml:"mode" toml:"mode" validate:"required"`
}

// PublishConfig describes an SFTP upload target.
type PublishConfig struct {
	Host       string `json:"host" yaml:"host" toml:"host" validate:"required"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User       string `json:"user" yaml:"user" toml:"user" validate:"required"`
	KeyFile    string `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty" toml:"known_hosts,omitempty"`
	RemoteDir  string `json:"remote_dir" yaml:"remote_dir" toml:"remote_dir" validate:"required"`

	// Insecure skips host key verification.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty" toml:"insecure,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path to the error (e.g., "resources[0].mode").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error with its location.
func (v ValidationError) String() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", v.File, v.Line, v.Column)
	}
	if v.Path != "" {
		loc = strings.TrimPrefix(loc+" "+v.Path, " ")
	}
	if loc == "" {
		return v.Message
	}
	return loc + ": " + v.Message
}

// Defaults returns a configuration holding every default value.
func Defaults() BuildConfig {
	return BuildConfig{
		Onefile:     true,
		Console:     true,
		IconEncoder: resources.EncoderGroupIcon,
		Extract:     ExtractToDisk,
		Interpreter: []string{"python3"},
		DistDir:     "dist",
		WorkDir:     "build",
	}
}

// Descriptors converts the resource declarations into embedder descriptors.
func (c *BuildConfig) Descriptors() []resources.Descriptor {
	out := make([]resources.Descriptor, 0, len(c.Resources))
	for _, r := range c.Resources {
		out = append(out, resources.Descriptor{Name: r.Name, Source: r.Source, Mode: resources.Mode(r.Mode)})
	}
	return out
}

// SourceResources maps the logical names of bundled resources to their source files.
// Native-only icons are not reachable through the locator and are left out.
func (c *BuildConfig) SourceResources() map[string]string {
	out := make(map[string]string)
	for _, r := range c.Resources {
		if resources.Mode(r.Mode).Bundled() {
			out[r.Name] = r.Source
		}
	}
	return out
}

// ExclusionPolicy returns the configured exclusion patterns as a policy.
func (c *BuildConfig) ExclusionPolicy() engine.ExclusionPolicy {
	return engine.NewExclusionPolicy(c.Exclude...)
}

// ArtifactPath returns the path of the produced executable.
// Directory builds place it inside a folder named after the artifact.
func (c *BuildConfig) ArtifactPath() string {
	if c.Onefile {
		return filepath.Join(c.DistDir, c.Name)
	}
	return filepath.Join(c.DistDir, c.Name, c.Name)
}

// resolvePaths makes every relative path absolute against base.
func (c *BuildConfig) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.Entry = abs(c.Entry)
	c.Stub = abs(c.Stub)
	c.DistDir = abs(c.DistDir)
	c.WorkDir = abs(c.WorkDir)
	for i := range c.Paths {
		c.Paths[i] = abs(c.Paths[i])
	}
	for i := range c.Policies {
		c.Policies[i] = abs(c.Policies[i])
	}
	for i := range c.Resources {
		c.Resources[i].Source = abs(c.Resources[i].Source)
	}
	if strings.HasPrefix(c.IconEncoder, resources.EncoderWASMPrefix) {
		c.IconEncoder = resources.EncoderWASMPrefix + abs(strings.TrimPrefix(c.IconEncoder, resources.EncoderWASMPrefix))
	}
	if c.Publish != nil {
		c.Publish.KeyFile = abs(c.Publish.KeyFile)
		c.Publish.KnownHosts = abs(c.Publish.KnownHosts)
	}
}

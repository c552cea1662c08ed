package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyopack/pkg/analyzers"
	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/resources"
)

// Loader parses and validates build configuration files.
type Loader struct {
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
	starlark       *StarlarkEvaluator
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
		starlark:       NewStarlarkEvaluator(0),
	}
}

// Load reads a configuration file, applies defaults, validates it and
// resolves relative paths against the file's directory.
// Every failure is a ConfigError; nothing is written.
func (l *Loader) Load(path string) (*BuildConfig, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError("failed to read configuration", err).WithPath(path)
	}

	cfg, err := l.Parse(content, format, path)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewConfigError("invalid configuration path", err).WithPath(path)
	}
	cfg.SourcePath = abs
	cfg.resolvePaths(filepath.Dir(abs))
	return cfg, nil
}

// Parse decodes configuration content of the given format and validates it.
// Relative paths are left untouched.
func (l *Loader) Parse(content []byte, format Format, filename string) (*BuildConfig, error) {
	var (
		cfg  BuildConfig
		errs []ValidationError
	)

	switch format {
	case FormatCUE:
		cfg, errs = l.decodeCUE(content, filename)
	case FormatStarlark:
		cfg, errs = l.decodeStarlark(content, filename)
	case FormatYAML:
		cfg = Defaults()
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			errs = append(errs, ValidationError{File: filename, Message: err.Error()})
		}
	case FormatTOML:
		cfg = Defaults()
		dec := toml.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			errs = append(errs, tomlError(filename, err))
		}
	case FormatJSON:
		cfg = Defaults()
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			errs = append(errs, ValidationError{File: filename, Message: err.Error()})
		}
	default:
		return nil, engine.NewConfigError(fmt.Sprintf("unsupported configuration format %q", format), nil)
	}

	if len(errs) == 0 {
		errs = l.validate(&cfg, filename)
	}
	if len(errs) > 0 {
		return nil, newValidationFailure(filename, errs)
	}
	return &cfg, nil
}

// decodeCUE unifies the content with the build schema and decodes the result.
func (l *Loader) decodeCUE(content []byte, filename string) (BuildConfig, []ValidationError) {
	var cfg BuildConfig

	ctx := l.schemaRegistry.Context()
	val := ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cfg, convertCUEErrors(err, cue.Value{})
	}

	unified := l.schemaRegistry.Definition().Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cfg, convertCUEErrors(err, val)
	}

	if err := unified.Decode(&cfg); err != nil {
		return cfg, convertCUEErrors(err, val)
	}
	return cfg, nil
}

// validate applies struct tags and the checks tags cannot express.
func (l *Loader) validate(cfg *BuildConfig, filename string) []ValidationError {
	errs := make([]ValidationError, 0)

	if err := l.validator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					File:    filename,
					Path:    strings.TrimPrefix(fe.Namespace(), "BuildConfig."),
					Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, ValidationError{File: filename, Message: err.Error()})
		}
	}

	for i, r := range cfg.Resources {
		if !resources.Mode(r.Mode).Valid() {
			errs = append(errs, ValidationError{
				File:    filename,
				Path:    fmt.Sprintf("resources[%d].mode", i),
				Message: fmt.Sprintf("unknown embedding mode %q (want native-icon, bundled-data or both)", r.Mode),
			})
		}
	}

	if _, err := resources.ParseEncoderName(cfg.IconEncoder); err != nil {
		errs = append(errs, ValidationError{File: filename, Path: "icon_encoder", Message: err.Error()})
	}

	if cfg.Kind == "" {
		cfg.Kind = analyzers.KindForEntry(cfg.Entry)
		if cfg.Kind == "" {
			errs = append(errs, ValidationError{
				File:    filename,
				Path:    "kind",
				Message: fmt.Sprintf("cannot infer program kind from entry %q; set kind explicitly", cfg.Entry),
			})
		}
	}

	if cfg.Extract == ExtractMemory && cfg.Kind == analyzers.KindPython {
		errs = append(errs, ValidationError{
			File:    filename,
			Path:    "extract",
			Message: "python programs run in an external interpreter and need extract: \"extract\"",
		})
	}

	seen := make(map[string]bool)
	for i, r := range cfg.Resources {
		if seen[r.Name] {
			errs = append(errs, ValidationError{
				File:    filename,
				Path:    fmt.Sprintf("resources[%d].name", i),
				Message: fmt.Sprintf("duplicate resource name %q", r.Name),
			})
		}
		seen[r.Name] = true
	}

	return errs
}

// convertCUEErrors converts CUE errors to ValidationError slice. Errors
// without a position, such as an empty disjunction, are placed at the
// offending field of src.
func convertCUEErrors(err error, src cue.Value) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		path := fieldPath(e.Path())
		ve := ValidationError{
			Path:    strings.Join(path, "."),
			Message: errors.Details(e, nil),
		}

		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File, ve.Line, ve.Column = pos[0].Filename(), pos[0].Line(), pos[0].Column()
		} else if len(path) > 0 && src.Exists() {
			if pos := src.LookupPath(cuePath(path)).Pos(); pos.IsValid() {
				ve.File, ve.Line, ve.Column = pos.Filename(), pos.Line(), pos.Column()
			}
		}

		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}

// fieldPath drops the schema definition from an error path.
func fieldPath(path []string) []string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return path
}

func cuePath(path []string) cue.Path {
	sels := make([]cue.Selector, 0, len(path))
	for _, p := range path {
		if i, err := strconv.Atoi(p); err == nil {
			sels = append(sels, cue.Index(i))
			continue
		}
		sels = append(sels, cue.Str(p))
	}
	return cue.MakePath(sels...)
}

func tomlError(filename string, err error) ValidationError {
	var derr *toml.DecodeError
	if stderrors.As(err, &derr) {
		row, col := derr.Position()
		return ValidationError{File: filename, Line: row, Column: col, Message: derr.Error()}
	}
	return ValidationError{File: filename, Message: err.Error()}
}

// newValidationFailure wraps validation errors in a single ConfigError.
func newValidationFailure(filename string, errs []ValidationError) error {
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e.String())
	}
	return engine.NewConfigError(
		fmt.Sprintf("invalid configuration: %s", strings.Join(lines, "; ")), nil,
	).WithPath(filename).WithDetail("errors", errs)
}

// ValidationErrors extracts the per-field errors from a ConfigError returned by Load or Parse.
func ValidationErrors(err error) []ValidationError {
	var pe *engine.PackError
	if !stderrors.As(err, &pe) || pe.Details == nil {
		return nil
	}
	errs, _ := pe.Details["errors"].([]ValidationError)
	return errs
}

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// DefaultStarlarkTimeout bounds the evaluation of a Starlark configuration.
const DefaultStarlarkTimeout = 10 * time.Second

// StarlarkEvaluator executes Starlark configuration scripts.
//
// A script describes the build through its public globals: every global
// whose name does not start with an underscore and that is not a function
// becomes a configuration field of the same name.
type StarlarkEvaluator struct {
	timeout time.Duration
	getenv  func(string) (string, bool)
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout selects
// DefaultStarlarkTimeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout, getenv: os.LookupEnv}
}

// Evaluate runs script and returns its public globals as plain Go values.
// Relative patterns passed to glob() are resolved against the directory of
// filename.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script []byte, filename string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "froyopack",
		Print: func(*starlark.Thread, string) {},
		Load: func(*starlark.Thread, string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load() is not available in configuration files")
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(fmt.Sprintf("configuration evaluation exceeded %v", se.timeout))
	})
	defer stop()

	base := filepath.Dir(filename)
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"env":    starlark.NewBuiltin("env", se.builtinEnv),
		"glob":   starlark.NewBuiltin("glob", builtinGlob(base)),
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, err
	}

	output := make(map[string]any, len(globals))
	for name, val := range globals {
		if name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

// decodeStarlark evaluates a Starlark configuration and decodes its globals
// over the defaults.
func (l *Loader) decodeStarlark(content []byte, filename string) (BuildConfig, []ValidationError) {
	cfg := Defaults()

	globals, err := l.starlark.Evaluate(context.Background(), content, filename)
	if err != nil {
		return cfg, []ValidationError{starlarkError(filename, err)}
	}

	// The JSON tags are the field names scripts use.
	data, err := json.Marshal(globals)
	if err != nil {
		return cfg, []ValidationError{{File: filename, Message: err.Error()}}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, []ValidationError{{File: filename, Message: err.Error()}}
	}
	return cfg, nil
}

func starlarkError(filename string, err error) ValidationError {
	if evalErr, ok := err.(*starlark.EvalError); ok && len(evalErr.CallStack) > 0 {
		pos := evalErr.CallStack.At(0).Pos
		return ValidationError{File: filename, Line: int(pos.Line), Column: int(pos.Col), Message: evalErr.Msg}
	}
	if list, ok := err.(resolve.ErrorList); ok && len(list) > 0 {
		return ValidationError{File: filename, Line: int(list[0].Pos.Line), Column: int(list[0].Pos.Col), Message: list[0].Msg}
	}
	if synErr, ok := err.(syntax.Error); ok {
		return ValidationError{File: filename, Line: int(synErr.Pos.Line), Column: int(synErr.Pos.Col), Message: synErr.Msg}
	}
	return ValidationError{File: filename, Message: err.Error()}
}

// builtinEnv implements env(name, default=None).
func (se *StarlarkEvaluator) builtinEnv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name string
		def  starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := se.getenv(name); ok {
		return starlark.String(v), nil
	}
	return def, nil
}

// builtinGlob implements glob(pattern, ...). Matches are returned sorted and
// relative to base when the pattern is.
func builtinGlob(base string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}

		seen := make(map[string]bool)
		var matches []string
		for i, arg := range args {
			pattern, ok := starlark.AsString(arg)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d is %s, want string", b.Name(), i+1, arg.Type())
			}
			rel := !filepath.IsAbs(pattern)
			if rel {
				pattern = filepath.Join(base, pattern)
			}
			found, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			for _, m := range found {
				if rel {
					if r, err := filepath.Rel(base, m); err == nil {
						m = filepath.ToSlash(r)
					}
				}
				if !seen[m] {
					seen[m] = true
					matches = append(matches, m)
				}
			}
		}
		sort.Strings(matches)

		list := make([]starlark.Value, len(matches))
		for i, m := range matches {
			list[i] = starlark.String(m)
		}
		return starlark.NewList(list), nil
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) ([]any, error) {
	list := make([]any, seq.Len())
	for i := range list {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

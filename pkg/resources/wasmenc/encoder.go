// Package wasmenc runs icon encoder plugins compiled to WebAssembly.
//
// A plugin is a WASI command. It reads the icon source on stdin and writes
// a serialized resource table (see resources.Table) to stdout; a non-zero
// exit status fails the build with whatever it wrote to stderr. Plugins get
// no file system, network or clock beyond what WASI provides by default.
package wasmenc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openfroyo/froyopack/pkg/resources"
)

const (
	// DefaultMemoryLimitPages is 16 MiB.
	DefaultMemoryLimitPages = 256

	// DefaultTimeout bounds a single encode.
	DefaultTimeout = 30 * time.Second

	maxStderr = 4 << 10
)

// Encoder is a resources.IconEncoder backed by a WASI plugin.
type Encoder struct {
	manifest *Manifest
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	logger   zerolog.Logger
}

var _ resources.IconEncoder = (*Encoder)(nil)

// Load compiles the plugin at path. The caller must Close the encoder.
func Load(ctx context.Context, path string, logger zerolog.Logger) (*Encoder, error) {
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin: %w", err)
	}
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, module, manifest, logger)
}

// New compiles a plugin module.
func New(ctx context.Context, module []byte, manifest *Manifest, logger zerolog.Logger) (*Encoder, error) {
	if manifest == nil {
		manifest = &Manifest{Name: "plugin"}
	}
	if manifest.MemoryLimitPages == 0 {
		manifest.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if manifest.Timeout <= 0 {
		manifest.Timeout = DefaultTimeout
	}
	if err := manifest.VerifyChecksum(module); err != nil {
		return nil, err
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(manifest.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, module)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile plugin %s: %w", manifest.Name, err)
	}

	return &Encoder{
		manifest: manifest,
		runtime:  runtime,
		compiled: compiled,
		logger:   logger.With().Str("component", "wasm-encoder").Str("plugin", manifest.Name).Logger(),
	}, nil
}

// Name returns "wasm:<plugin name>".
func (e *Encoder) Name() string {
	return resources.EncoderWASMPrefix + e.manifest.Name
}

// EncodeIcon runs the plugin once on src.
func (e *Encoder) EncodeIcon(src []byte) (*resources.ResourceBlob, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.manifest.Timeout)
	defer cancel()
	return e.Encode(ctx, src)
}

// Encode runs the plugin once on src under ctx.
func (e *Encoder) Encode(ctx context.Context, src []byte) (*resources.ResourceBlob, error) {
	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(e.manifest.Name).
		WithStdin(bytes.NewReader(src)).
		WithStdout(&stdout).
		WithStderr(&limitedWriter{w: &stderr, n: maxStderr})

	start := time.Now()
	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if err != nil {
		var exit *sys.ExitError
		switch {
		case errors.As(err, &exit) && exit.ExitCode() == 0:
		case ctx.Err() != nil:
			return nil, fmt.Errorf("plugin %s timed out: %w", e.manifest.Name, ctx.Err())
		case errors.As(err, &exit):
			return nil, fmt.Errorf("plugin %s exited with status %d: %s", e.manifest.Name, exit.ExitCode(), strings.TrimSpace(stderr.String()))
		default:
			return nil, fmt.Errorf("plugin %s failed: %w", e.manifest.Name, err)
		}
	}

	table, err := resources.ParseTable(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("plugin %s produced an invalid resource table: %w", e.manifest.Name, err)
	}
	if table.Len() == 0 {
		return nil, fmt.Errorf("plugin %s produced no resources", e.manifest.Name)
	}

	e.logger.Debug().
		Int("input_bytes", len(src)).
		Int("entries", table.Len()).
		Dur("duration", time.Since(start)).
		Msg("icon encoded")

	return &resources.ResourceBlob{Entries: table.Entries()}, nil
}

// Close releases the runtime.
func (e *Encoder) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if room := l.n - l.w.Len(); room > 0 {
		if len(p) > room {
			l.w.Write(p[:room])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}

// Resolve returns the encoder for a configured name: a built-in, or a
// plugin for "wasm:<path>" with path relative to baseDir. The returned
// function releases plugin resources.
func Resolve(ctx context.Context, name, baseDir string, logger zerolog.Logger) (resources.IconEncoder, func(), error) {
	pluginPath, err := resources.ParseEncoderName(name)
	if err != nil {
		return nil, nil, err
	}
	if pluginPath == "" {
		enc, err := resources.NewEncoder(name)
		return enc, func() {}, err
	}

	if !filepath.IsAbs(pluginPath) {
		pluginPath = filepath.Join(baseDir, pluginPath)
	}
	enc, err := Load(ctx, pluginPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return enc, func() { _ = enc.Close(context.Background()) }, nil
}

// Package locator answers "where is this bundled file?" for a running
// program. The same logical names resolve whether the program runs from
// source or from a packaged artifact.
package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a logical path does not name a bundled file.
var ErrNotFound = errors.New("resource not found")

// Environment variables exported to programs run by an external interpreter.
const (
	EnvRoot     = "FROYOPACK_ROOT"
	EnvAppDir   = "FROYOPACK_APP_DIR"
	EnvPackaged = "FROYOPACK_PACKAGED"
)

// Context is the runtime resource context. It is read-only once created,
// apart from the cache of lazily materialized entries.
type Context struct {
	packaged bool

	// root is the directory logical paths are resolved against. Empty for
	// the memory strategy, which serves entries from fsys instead.
	root string
	fsys fs.FS

	// sources maps logical names to source files (source mode only).
	sources map[string]string

	appDir string
	icon   []byte

	mu           sync.Mutex
	cacheDir     string
	materialized map[string]string
}

// NewSourceContext creates a context for a program run from its source tree.
// Explicit mappings from the build configuration win over files under root.
func NewSourceContext(root string, sources map[string]string) *Context {
	m := make(map[string]string, len(sources))
	for k, v := range sources {
		m[k] = v
	}
	return &Context{root: root, fsys: os.DirFS(root), sources: m, appDir: root}
}

// NewPackagedContext creates a context for an artifact whose entries are on
// disk under root (extracted, or the _internal folder of a directory build).
func NewPackagedContext(root, appDir string) *Context {
	return &Context{packaged: true, root: root, fsys: os.DirFS(root), appDir: appDir}
}

// NewVirtualContext creates a context for the memory strategy. Entries are
// read from fsys and written to a private directory only when a caller
// needs a real path.
func NewVirtualContext(fsys fs.FS, appDir string) *Context {
	return &Context{packaged: true, fsys: fsys, appDir: appDir, materialized: make(map[string]string)}
}

// WithIcon attaches the icon embedded in the running artifact.
func (c *Context) WithIcon(data []byte) *Context {
	c.icon = data
	return c
}

// Packaged reports whether the program runs from an artifact.
func (c *Context) Packaged() bool { return c.packaged }

// Root returns the resolution root. It is empty for the memory strategy.
func (c *Context) Root() string { return c.root }

// AppDir returns the writable directory next to the executable, or next to
// the entry file when running from source.
func (c *Context) AppDir() string { return c.appDir }

// Icon returns the icon embedded in the running artifact.
func (c *Context) Icon() ([]byte, bool) {
	return c.icon, len(c.icon) > 0
}

// FS returns the bundle as a file system.
func (c *Context) FS() fs.FS { return c.fsys }

// Resolve returns a filesystem path for a logical path. Directories resolve
// too. The error wraps ErrNotFound when nothing is bundled under the name.
func (c *Context) Resolve(logical string) (string, error) {
	name, ok := clean(logical)
	if !ok {
		return "", notFound(logical)
	}

	if src, ok := c.sources[name]; ok {
		if _, err := os.Stat(src); err != nil {
			return "", notFound(logical)
		}
		return src, nil
	}

	if c.root != "" {
		p := filepath.Join(c.root, filepath.FromSlash(name))
		if _, err := os.Stat(p); err != nil {
			return "", notFound(logical)
		}
		return p, nil
	}

	return c.materialize(name)
}

// Open opens a bundled file without materializing it.
func (c *Context) Open(logical string) (fs.File, error) {
	name, ok := clean(logical)
	if !ok {
		return nil, notFound(logical)
	}
	if src, ok := c.sources[name]; ok {
		f, err := os.Open(src)
		if err != nil {
			return nil, notFound(logical)
		}
		return f, nil
	}
	f, err := c.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(logical)
		}
		return nil, err
	}
	return f, nil
}

// ReadFile reads a bundled file.
func (c *Context) ReadFile(logical string) ([]byte, error) {
	name, ok := clean(logical)
	if !ok {
		return nil, notFound(logical)
	}
	if src, ok := c.sources[name]; ok {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, notFound(logical)
		}
		return data, nil
	}
	data, err := fs.ReadFile(c.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(logical)
		}
		return nil, err
	}
	return data, nil
}

// Environ returns the variables describing this context to a child process.
func (c *Context) Environ() []string {
	packaged := "0"
	if c.packaged {
		packaged = "1"
	}
	return []string{
		EnvRoot + "=" + c.root,
		EnvAppDir + "=" + c.appDir,
		EnvPackaged + "=" + packaged,
	}
}

// Close removes materialized entries.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cacheDir == "" {
		return nil
	}
	err := os.RemoveAll(c.cacheDir)
	c.cacheDir = ""
	c.materialized = make(map[string]string)
	return err
}

// materialize copies a file, or every file below a directory, out of fsys
// into the private cache directory and returns its path there.
func (c *Context) materialize(name string) (string, error) {
	info, err := fs.Stat(c.fsys, name)
	if err != nil {
		return "", notFound(name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.materialized[name]; ok {
		return p, nil
	}
	if c.cacheDir == "" {
		dir, err := os.MkdirTemp("", "froyopack-res-*")
		if err != nil {
			return "", fmt.Errorf("failed to create resource cache: %w", err)
		}
		c.cacheDir = dir
	}

	target := filepath.Join(c.cacheDir, filepath.FromSlash(name))
	if !info.IsDir() {
		if err := c.copyOut(name, target); err != nil {
			return "", err
		}
	} else {
		err := fs.WalkDir(c.fsys, name, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			return c.copyOut(p, filepath.Join(c.cacheDir, filepath.FromSlash(p)))
		})
		if err != nil {
			return "", err
		}
	}

	c.materialized[name] = target
	return target, nil
}

func (c *Context) copyOut(name, target string) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	data, err := fs.ReadFile(c.fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	mode := fs.FileMode(0o644)
	if info, err := fs.Stat(c.fsys, name); err == nil && info.Mode().Perm() != 0 {
		mode = info.Mode().Perm() | 0o400
	}
	return os.WriteFile(target, data, mode)
}

// clean normalizes a logical path and rejects names that escape the root.
func clean(logical string) (string, bool) {
	if logical == "" || strings.Contains(logical, `\`) || path.IsAbs(logical) {
		return "", false
	}
	name := path.Clean(logical)
	if name == "." {
		return "", false
	}
	return name, fs.ValidPath(name)
}

func notFound(logical string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, logical)
}

package analyzers

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// nativeSuffixes are the file extensions of compiled extension modules.
var nativeSuffixes = []string{".so", ".pyd", ".dll", ".dylib"}

// interpreterModules are compiled into the interpreter and never exist on disk.
var interpreterModules = map[string]bool{
	"__future__": true, "__main__": true, "_abc": true, "_codecs": true, "_collections": true,
	"_functools": true, "_imp": true, "_io": true, "_locale": true, "_operator": true,
	"_signal": true, "_sre": true, "_stat": true, "_string": true, "_thread": true,
	"_tracemalloc": true, "_warnings": true, "_weakref": true, "atexit": true, "builtins": true,
	"errno": true, "faulthandler": true, "gc": true, "itertools": true, "marshal": true,
	"math": true, "nt": true, "posix": true, "pwd": true, "sys": true, "time": true,
	"zipimport": true,
}

// PythonAnalyzer resolves Python imports against a list of search paths.
// It is safe for concurrent use; resolutions are cached.
type PythonAnalyzer struct {
	searchPaths []string

	// cache maps module names to resolution results
	cache sync.Map
}

type resolution struct {
	node      *engine.ModuleNode
	namespace bool
}

// NewPythonAnalyzer creates an analyzer. The directory of the entry file is
// always searched first; extra search paths follow in order.
func NewPythonAnalyzer(searchPaths ...string) *PythonAnalyzer {
	return &PythonAnalyzer{searchPaths: absPaths(searchPaths)}
}

// Kind returns "python".
func (a *PythonAnalyzer) Kind() string { return KindPython }

// Entry resolves the entry-point script.
func (a *PythonAnalyzer) Entry(p string) (*engine.ModuleNode, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, engine.NewConfigError("invalid entry path", err).WithPath(p)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, engine.NewConfigError("entry point not found", err).WithPath(abs)
	}
	if info.IsDir() {
		return nil, engine.NewConfigError("entry point is a directory", nil).WithPath(abs)
	}

	a.searchPaths = prependUnique(filepath.Dir(abs), a.searchPaths)

	base := filepath.Base(abs)
	return &engine.ModuleNode{
		Name:        strings.TrimSuffix(base, filepath.Ext(base)),
		Path:        abs,
		LogicalPath: base,
		Kind:        engine.KindCode,
	}, nil
}

// Analyze scans node for imports and resolves each against the search paths.
func (a *PythonAnalyzer) Analyze(ctx context.Context, node *engine.ModuleNode) ([]*engine.ModuleNode, []*engine.PackError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	src, err := os.ReadFile(node.Path)
	if err != nil {
		return nil, nil, engine.NewInternalError("failed to read module", err).WithModule(node.Name).WithPath(node.Path)
	}

	c := &collector{seen: make(map[string]bool)}
	for _, ref := range ScanImports(src) {
		switch {
		case ref.Dynamic:
			name := fmt.Sprintf("%s:<dynamic@%d>", node.Name, ref.Line)
			c.unresolved(name, "dynamic import with a non-literal argument", engine.ErrCodeDynamic,
				fmt.Sprintf("%s line %d: dynamic import with a non-literal argument", node.LogicalPath, ref.Line))

		case ref.DataFile != "":
			a.addDataFile(c, ref)

		case ref.Level > 0:
			base, ok := relativeBase(node, ref.Level)
			if !ok {
				c.unresolved(fmt.Sprintf("%s:<relative@%d>", node.Name, ref.Line), "relative import beyond top-level package",
					engine.ErrCodeUnresolved, fmt.Sprintf("%s line %d: relative import beyond top-level package", node.LogicalPath, ref.Line))
				continue
			}
			a.addFrom(c, joinModule(base, ref.Module), ref.Names)

		case len(ref.Names) > 0:
			a.addFrom(c, ref.Module, ref.Names)

		default:
			a.addModule(c, ref.Module)
		}
	}

	return c.deps, c.warnings, nil
}

// addModule adds name and each of its parent packages.
func (a *PythonAnalyzer) addModule(c *collector, name string) {
	parts := strings.Split(name, ".")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], ".")
		if c.seen[prefix] {
			continue
		}
		if interpreterModules[prefix] {
			c.seen[prefix] = true
			continue
		}
		res := a.resolve(prefix)
		switch {
		case res.node != nil:
			c.add(res.node)
		case res.namespace:
			c.seen[prefix] = true
		default:
			c.unresolved(prefix, "module not found on search path", engine.ErrCodeUnresolved,
				fmt.Sprintf("module %s not found on search path", prefix))
			return
		}
	}
}

// addFrom handles "from module import names": each name may be a submodule.
func (a *PythonAnalyzer) addFrom(c *collector, module string, names []string) {
	if module != "" {
		a.addModule(c, module)
	}
	for _, name := range names {
		if name == "*" {
			continue
		}
		sub := joinModule(module, name)
		if c.seen[sub] {
			continue
		}
		if res := a.resolve(sub); res.node != nil {
			c.add(res.node)
		}
	}
}

// addDataFile resolves a pkgutil.get_data reference relative to its package directory.
func (a *PythonAnalyzer) addDataFile(c *collector, ref ImportRef) {
	a.addModule(c, ref.Module)

	pkgDir := strings.ReplaceAll(ref.Module, ".", "/")
	logical := path.Clean(path.Join(pkgDir, ref.DataFile))
	if c.seen[logical] {
		return
	}
	for _, root := range a.searchPaths {
		full := filepath.Join(root, filepath.FromSlash(logical))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			c.add(&engine.ModuleNode{Name: logical, Path: full, LogicalPath: logical, Kind: engine.KindDataFile})
			return
		}
	}
	c.unresolved(logical, "data file not found", engine.ErrCodeUnresolved,
		fmt.Sprintf("data file %s not found in package %s", ref.DataFile, ref.Module))
}

// resolve locates a module on the search paths. Results are cached.
func (a *PythonAnalyzer) resolve(name string) resolution {
	if cached, ok := a.cache.Load(name); ok {
		return cached.(resolution)
	}

	res := a.lookup(name)
	actual, _ := a.cache.LoadOrStore(name, res)
	return actual.(resolution)
}

func (a *PythonAnalyzer) lookup(name string) resolution {
	rel := strings.ReplaceAll(name, ".", "/")
	namespace := false

	for _, root := range a.searchPaths {
		dir := filepath.Join(root, filepath.FromSlash(rel))

		initFile := filepath.Join(dir, "__init__.py")
		if fileExists(initFile) {
			return resolution{node: &engine.ModuleNode{
				Name: name, Path: initFile, LogicalPath: rel + "/__init__.py", Kind: engine.KindCode,
			}}
		}

		if fileExists(dir + ".py") {
			return resolution{node: &engine.ModuleNode{
				Name: name, Path: dir + ".py", LogicalPath: rel + ".py", Kind: engine.KindCode,
			}}
		}

		if native := findNative(filepath.Dir(dir), filepath.Base(dir)); native != "" {
			return resolution{node: &engine.ModuleNode{
				Name:        name,
				Path:        native,
				LogicalPath: path.Join(path.Dir(rel), filepath.Base(native)),
				Kind:        engine.KindNativeBinary,
			}}
		}

		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			namespace = true
		}
	}
	return resolution{namespace: namespace}
}

// findNative looks for an extension module named base in dir, including
// ABI-tagged names such as base.cpython-311-x86_64-linux-gnu.so.
func findNative(dir, base string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		for _, suffix := range nativeSuffixes {
			if strings.HasSuffix(name, suffix) {
				return filepath.Join(dir, name)
			}
		}
	}
	return ""
}

// relativeBase returns the package a relative import of the given level refers to.
func relativeBase(node *engine.ModuleNode, level int) (string, bool) {
	pkg := node.Name
	if !strings.HasSuffix(node.LogicalPath, "__init__.py") {
		pkg = parentModule(pkg)
	}
	for i := 1; i < level; i++ {
		if pkg == "" {
			return "", false
		}
		pkg = parentModule(pkg)
	}
	if pkg == "" && level > 1 {
		return "", false
	}
	return pkg, true
}

func parentModule(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[:idx]
	}
	return ""
}

func joinModule(base, name string) string {
	switch {
	case base == "":
		return name
	case name == "":
		return base
	default:
		return base + "." + name
	}
}

// collector accumulates the dependencies of a single module.
type collector struct {
	deps     []*engine.ModuleNode
	warnings []*engine.PackError
	seen     map[string]bool
}

func (c *collector) add(node *engine.ModuleNode) {
	if c.seen[node.Name] {
		return
	}
	c.seen[node.Name] = true
	c.deps = append(c.deps, node)
}

func (c *collector) unresolved(name, reason, code, message string) {
	if c.seen[name] {
		return
	}
	c.seen[name] = true
	c.deps = append(c.deps, &engine.ModuleNode{Name: name, Kind: engine.KindCode, Unresolved: true, Reason: reason})
	c.warnings = append(c.warnings, engine.NewGraphResolutionWarning(name, message).WithCode(code))
}

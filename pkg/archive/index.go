package archive

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Layout is the on-disk shape of a build.
type Layout string

const (
	// LayoutOnefile stores every entry inside the executable.
	LayoutOnefile Layout = "onefile"

	// LayoutDirectory stores entries uncompressed in an _internal folder next to the executable.
	LayoutDirectory Layout = "directory"
)

// InternalDir is the folder holding the entries of a directory build.
const InternalDir = "_internal"

// Compression methods.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// EntryKindResource marks bundled resources in the index. Program files carry
// their module kind (code, native-binary, data-file).
const EntryKindResource = "resource"

// Entry describes one stored file.
type Entry struct {
	// Name is the logical slash-separated path relative to the extraction root.
	Name string `json:"name"`

	// Kind is the module kind or "resource".
	Kind string `json:"kind"`

	// Module is the module name for program files.
	Module string `json:"module,omitempty"`

	// Offset is relative to the payload start. Unused by directory builds.
	Offset int64 `json:"offset"`

	// Size is the stored (possibly compressed) size.
	Size int64 `json:"size"`

	// Length is the original size.
	Length int64 `json:"length"`

	// SHA256 is the hex digest of the original content.
	SHA256 string `json:"sha256"`

	// Compression is "zstd" or "none".
	Compression string `json:"compression"`

	// Mode holds the permission bits to restore on extraction.
	Mode uint32 `json:"mode"`
}

// FileMode returns the permission bits as an fs.FileMode.
func (e *Entry) FileMode() fs.FileMode {
	if e.Mode == 0 {
		return 0o644
	}
	return fs.FileMode(e.Mode).Perm()
}

// Index is the table of contents stored at the end of the payload. It holds
// no timestamps so identical inputs produce identical bytes.
type Index struct {
	Format uint32 `json:"format"`

	// Name is the artifact name.
	Name string `json:"name"`

	// Program is the program kind (python, starlark).
	Program string `json:"program"`

	// Entry is the logical path of the entry-point file.
	Entry string `json:"entry"`

	// EntryModule is the module name of the entry point.
	EntryModule string `json:"entry_module"`

	Layout  Layout `json:"layout"`
	Extract string `json:"extract"`
	Console bool   `json:"console"`

	// Interpreter is the command used to run external programs.
	Interpreter []string `json:"interpreter,omitempty"`

	// Entries are sorted by name.
	Entries []Entry `json:"entries"`
}

// Lookup returns the entry with the given logical name.
func (idx *Index) Lookup(name string) (*Entry, bool) {
	i := sort.Search(len(idx.Entries), func(i int) bool { return idx.Entries[i].Name >= name })
	if i < len(idx.Entries) && idx.Entries[i].Name == name {
		return &idx.Entries[i], true
	}
	return nil, false
}

// Resources returns the entries that are bundled resources.
func (idx *Index) Resources() []Entry {
	out := make([]Entry, 0)
	for _, e := range idx.Entries {
		if e.Kind == EntryKindResource {
			out = append(out, e)
		}
	}
	return out
}

// StoredSize returns the sum of stored entry sizes.
func (idx *Index) StoredSize() int64 {
	var n int64
	for _, e := range idx.Entries {
		n += e.Size
	}
	return n
}

// marshal encodes the index deterministically.
func (idx *Index) marshal() ([]byte, error) {
	return json.Marshal(idx)
}

// parseIndex decodes and sanity-checks an index.
func parseIndex(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, engine.NewCorruptArtifactError("payload index is not valid JSON", err)
	}
	if idx.Format != FormatVersion {
		return nil, engine.NewCorruptArtifactError(fmt.Sprintf("unsupported index format %d", idx.Format), nil)
	}
	for i, e := range idx.Entries {
		if i > 0 && idx.Entries[i-1].Name >= e.Name {
			return nil, engine.NewCorruptArtifactError("payload index is not sorted", nil).WithModule(e.Name)
		}
		if !validEntryName(e.Name) {
			return nil, engine.NewCorruptArtifactError(fmt.Sprintf("invalid entry name %q", e.Name), nil)
		}
		if e.Offset < 0 || e.Size < 0 || e.Length < 0 {
			return nil, engine.NewCorruptArtifactError("negative entry bounds", nil).WithModule(e.Name)
		}
	}
	if _, ok := idx.Lookup(idx.Entry); !ok {
		return nil, engine.NewCorruptArtifactError(fmt.Sprintf("entry point %q is not in the payload", idx.Entry), nil)
	}
	return &idx, nil
}

// validEntryName rejects names that would escape the extraction root.
func validEntryName(name string) bool {
	return fs.ValidPath(name) && name != "." && !strings.Contains(name, `\`)
}

package archive

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"
)

// FS returns a read-only file system over the artifact entries. Entries are
// decompressed and verified when opened.
func (r *Reader) FS() fs.FS {
	dirs := map[string]map[string]bool{".": {}}
	for _, e := range r.index.Entries {
		child := e.Name
		for {
			parent := path.Dir(child)
			if dirs[parent] == nil {
				dirs[parent] = make(map[string]bool)
			}
			dirs[parent][path.Base(child)] = true
			if parent == "." {
				break
			}
			child = parent
		}
	}
	return &artifactFS{r: r, dirs: dirs}
}

type artifactFS struct {
	r    *Reader
	dirs map[string]map[string]bool
}

func (a *artifactFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.r.index.Lookup(name); ok {
		data, err := a.r.readEntry(e)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &entryFile{
			info:   entryInfo{name: path.Base(name), size: int64(len(data)), mode: e.FileMode()},
			Reader: bytes.NewReader(data),
		}, nil
	}
	if _, ok := a.dirs[name]; ok {
		return &dirFile{info: entryInfo{name: path.Base(name), mode: fs.ModeDir | 0o755}, entries: a.list(name)}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (a *artifactFS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	data, err := a.r.ReadFile(name)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, err
		}
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return data, nil
}

func (a *artifactFS) list(dir string) []fs.DirEntry {
	names := make([]string, 0, len(a.dirs[dir]))
	for n := range a.dirs[dir] {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		full := n
		if dir != "." {
			full = dir + "/" + n
		}
		if _, isDir := a.dirs[full]; isDir {
			out = append(out, fs.FileInfoToDirEntry(entryInfo{name: n, mode: fs.ModeDir | 0o755}))
			continue
		}
		e, _ := a.r.index.Lookup(full)
		out = append(out, fs.FileInfoToDirEntry(entryInfo{name: n, size: e.Length, mode: e.FileMode()}))
	}
	return out
}

type entryInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (i entryInfo) Name() string       { return i.name }
func (i entryInfo) Size() int64        { return i.size }
func (i entryInfo) Mode() fs.FileMode  { return i.mode }
func (i entryInfo) ModTime() time.Time { return time.Time{} }
func (i entryInfo) IsDir() bool        { return i.mode.IsDir() }
func (i entryInfo) Sys() any           { return nil }

type entryFile struct {
	info entryInfo
	*bytes.Reader
}

func (f *entryFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *entryFile) Close() error               { return nil }

type dirFile struct {
	info    entryInfo
	entries []fs.DirEntry
	offset  int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}

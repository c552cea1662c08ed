package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/resources"
)

// Reader gives access to the contents of a built artifact.
type Reader struct {
	path       string
	f          *os.File
	footer     *Footer
	index      *Index
	indexBytes []byte
	table      *resources.Table

	// root is the _internal folder of a directory build.
	root string

	decoder *zstd.Decoder
}

// Open validates the footer, index checksum, index and resource table of
// the artifact at path. Every structural problem is a CorruptArtifact error.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engine.NewCorruptArtifactError("cannot open artifact", err).WithPath(path)
	}

	r, err := newReader(path, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(path string, f *os.File) (*Reader, error) {
	footer, _, err := readFooter(f)
	if err != nil {
		return nil, withPath(err, path)
	}

	indexBytes := make([]byte, footer.IndexLength)
	if _, err := f.ReadAt(indexBytes, int64(footer.PayloadOffset+footer.IndexOffset)); err != nil {
		return nil, engine.NewCorruptArtifactError("failed to read payload index", err).WithPath(path)
	}
	if sum := xxhash.Sum64(indexBytes); sum != footer.IndexChecksum {
		return nil, engine.NewCorruptArtifactError(
			fmt.Sprintf("payload index checksum mismatch (want %016x, got %016x)", footer.IndexChecksum, sum), nil,
		).WithCode(engine.ErrCodeChecksum).WithPath(path)
	}

	index, err := parseIndex(indexBytes)
	if err != nil {
		return nil, withPath(err, path)
	}
	if footer.Directory() != (index.Layout == LayoutDirectory) {
		return nil, engine.NewCorruptArtifactError("footer and index disagree on the layout", nil).WithPath(path)
	}
	for _, e := range index.Entries {
		if index.Layout != LayoutDirectory && uint64(e.Offset+e.Size) > footer.IndexOffset {
			return nil, engine.NewCorruptArtifactError("entry extends past the payload", nil).WithModule(e.Name).WithPath(path)
		}
	}

	tableBytes := make([]byte, footer.ResourceLength)
	if _, err := f.ReadAt(tableBytes, int64(footer.ResourceOffset)); err != nil {
		return nil, engine.NewCorruptArtifactError("failed to read resource table", err).WithPath(path)
	}
	table, err := resources.ParseTable(tableBytes)
	if err != nil {
		return nil, engine.NewCorruptArtifactError("invalid resource table", err).WithPath(path)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, engine.NewInternalError("failed to create decompressor", err)
	}

	r := &Reader{
		path:       path,
		f:          f,
		footer:     footer,
		index:      index,
		indexBytes: indexBytes,
		table:      table,
		decoder:    dec,
	}
	if footer.Directory() {
		r.root = filepath.Join(filepath.Dir(path), InternalDir)
	}
	return r, nil
}

// Close releases the artifact file.
func (r *Reader) Close() error {
	r.decoder.Close()
	return r.f.Close()
}

// Path returns the artifact path.
func (r *Reader) Path() string { return r.path }

// Footer returns the decoded footer.
func (r *Reader) Footer() *Footer { return r.footer }

// Index returns the decoded index.
func (r *Reader) Index() *Index { return r.index }

// Table returns the native resource table.
func (r *Reader) Table() *resources.Table { return r.table }

// Digest returns the hex SHA-256 of the index bytes.
func (r *Reader) Digest() string {
	sum := sha256.Sum256(r.indexBytes)
	return hex.EncodeToString(sum[:])
}

// InternalRoot returns the _internal folder of a directory build, or "".
func (r *Reader) InternalRoot() string { return r.root }

// ReadFile returns the original content of an entry and checks its digest.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	e, ok := r.index.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return r.readEntry(e)
}

func (r *Reader) readEntry(e *Entry) ([]byte, error) {
	var data []byte
	if r.root != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(r.root, filepath.FromSlash(e.Name)))
		if err != nil {
			return nil, engine.NewCorruptArtifactError("missing file in "+InternalDir, err).WithModule(e.Name)
		}
	} else {
		stored := make([]byte, e.Size)
		if _, err := r.f.ReadAt(stored, int64(r.footer.PayloadOffset)+e.Offset); err != nil {
			return nil, engine.NewCorruptArtifactError("failed to read entry", err).WithModule(e.Name)
		}
		switch e.Compression {
		case CompressionNone:
			data = stored
		case CompressionZstd:
			var err error
			data, err = r.decoder.DecodeAll(stored, make([]byte, 0, e.Length))
			if err != nil {
				return nil, engine.NewCorruptArtifactError("failed to decompress entry", err).WithModule(e.Name)
			}
		default:
			return nil, engine.NewCorruptArtifactError(fmt.Sprintf("unknown compression %q", e.Compression), nil).WithModule(e.Name)
		}
	}

	if int64(len(data)) != e.Length {
		return nil, engine.NewCorruptArtifactError(
			fmt.Sprintf("entry length mismatch (want %d, got %d)", e.Length, len(data)), nil,
		).WithCode(engine.ErrCodeChecksum).WithModule(e.Name)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != e.SHA256 {
		return nil, engine.NewCorruptArtifactError("entry checksum mismatch", nil).
			WithCode(engine.ErrCodeChecksum).WithModule(e.Name)
	}
	return data, nil
}

// Verify reads every entry and checks its digest.
func (r *Reader) Verify(ctx context.Context) error {
	for i := range r.index.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.readEntry(&r.index.Entries[i]); err != nil {
			return withPath(err, r.path)
		}
	}
	return nil
}

// ExtractAll writes every entry below dir, restoring permission bits.
func (r *Reader) ExtractAll(ctx context.Context, dir string, progress ProgressFunc) error {
	total := len(r.index.Entries)
	for i := range r.index.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &r.index.Entries[i]
		data, err := r.readEntry(e)
		if err != nil {
			return withPath(err, r.path)
		}

		target := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return engine.NewInternalError("failed to create directory", err).WithPath(target)
		}
		if err := os.WriteFile(target, data, e.FileMode()); err != nil {
			return engine.NewInternalError("failed to write entry", err).WithModule(e.Name).WithPath(target)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	return nil
}

// Open opens an entry for streaming.
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	data, err := r.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func withPath(err error, path string) error {
	if pe, ok := err.(*engine.PackError); ok && pe.Path == "" {
		return pe.WithPath(path)
	}
	return err
}

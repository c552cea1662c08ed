package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/resources"
)

// WriteOptions controls how an artifact is written.
type WriteOptions struct {
	// Output is the executable path. Directory builds place it inside its own folder.
	Output string

	// Stub is the bootstrap binary. A stub that already carries a payload is
	// truncated to its original size first.
	Stub string

	// Table holds the native resources. Nil or empty writes no table.
	Table *resources.Table
}

// Artifact describes a written artifact.
type Artifact struct {
	Path   string
	Size   int64
	Digest string
	Footer Footer
}

// WriteArtifact writes stub, resource table, payload and footer to a
// temporary file and renames it over the output, so a failed write never
// leaves a partial artifact behind. Directory builds stage the whole folder
// the same way.
func WriteArtifact(ctx context.Context, p *Payload, opts WriteOptions) (*Artifact, error) {
	if opts.Output == "" {
		return nil, engine.NewInternalError("artifact output path is empty", nil)
	}
	stubSize, err := StubSize(opts.Stub)
	if err != nil {
		return nil, engine.NewConfigError("unusable bootstrap stub", err).WithPath(opts.Stub)
	}

	var table []byte
	if opts.Table != nil {
		if table, err = opts.Table.MarshalBinary(); err != nil {
			return nil, engine.NewInternalError("failed to encode resource table", err)
		}
	}

	footer := Footer{
		Version:        FormatVersion,
		ResourceOffset: uint64(stubSize),
		ResourceLength: uint64(len(table)),
		PayloadOffset:  uint64(stubSize) + uint64(len(table)),
		PayloadLength:  uint64(p.Size()),
		IndexOffset:    uint64(len(p.entries)),
		IndexLength:    uint64(len(p.indexBytes)),
		IndexChecksum:  p.checksum,
	}
	if p.Index.Console {
		footer.Flags |= FlagConsole
	}
	if p.Index.Layout == LayoutDirectory {
		footer.Flags |= FlagDirectory
	}

	art := &Artifact{
		Path:   opts.Output,
		Size:   int64(footer.PayloadOffset+footer.PayloadLength) + FooterSize,
		Digest: p.Digest(),
		Footer: footer,
	}

	if p.Index.Layout == LayoutDirectory {
		return art, writeDirectory(ctx, p, opts, stubSize, table, &footer)
	}
	return art, writeOnefile(opts.Output, opts.Stub, stubSize, table, p, &footer)
}

func writeOnefile(output, stub string, stubSize int64, table []byte, p *Payload, footer *Footer) error {
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return engine.NewInternalError("failed to create output directory", err).WithPath(dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(output)+".tmp-*")
	if err != nil {
		return engine.NewInternalError("failed to create temporary artifact", err).WithPath(dir)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := writeExecutable(tmp, stub, stubSize, table, p, footer); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return engine.NewInternalError("failed to sync artifact", err).WithPath(tmpName)
	}
	if err := tmp.Close(); err != nil {
		return engine.NewInternalError("failed to close artifact", err).WithPath(tmpName)
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return engine.NewInternalError("failed to mark artifact executable", err).WithPath(tmpName)
	}

	// A previous directory build may occupy the output name.
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		if err := os.RemoveAll(output); err != nil {
			return engine.NewInternalError("failed to replace previous output", err).WithPath(output)
		}
	}
	if err := os.Rename(tmpName, output); err != nil {
		return engine.NewInternalError("failed to move artifact into place", err).WithPath(output)
	}
	committed = true
	return nil
}

func writeDirectory(ctx context.Context, p *Payload, opts WriteOptions, stubSize int64, table []byte, footer *Footer) error {
	outDir := filepath.Dir(opts.Output)
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return engine.NewInternalError("failed to create output directory", err).WithPath(parent)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(outDir)+".tmp-*")
	if err != nil {
		return engine.NewInternalError("failed to create staging directory", err).WithPath(parent)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	exe, err := os.OpenFile(filepath.Join(staging, filepath.Base(opts.Output)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return engine.NewInternalError("failed to create executable", err)
	}
	if err := writeExecutable(exe, opts.Stub, stubSize, table, p, footer); err != nil {
		_ = exe.Close()
		return err
	}
	if err := exe.Close(); err != nil {
		return engine.NewInternalError("failed to close executable", err)
	}

	internal := filepath.Join(staging, InternalDir)
	for _, e := range p.Index.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(internal, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return engine.NewInternalError("failed to create directory", err).WithPath(target)
		}
		if err := os.WriteFile(target, p.files[e.Name], e.FileMode()); err != nil {
			return engine.NewInternalError("failed to write entry", err).WithModule(e.Name).WithPath(target)
		}
	}

	if err := os.RemoveAll(outDir); err != nil {
		return engine.NewInternalError("failed to replace previous output", err).WithPath(outDir)
	}
	if err := os.Rename(staging, outDir); err != nil {
		return engine.NewInternalError("failed to move build into place", err).WithPath(outDir)
	}
	committed = true
	return nil
}

// writeExecutable streams the four artifact regions into w.
func writeExecutable(w io.Writer, stub string, stubSize int64, table []byte, p *Payload, footer *Footer) error {
	bw := bufio.NewWriterSize(w, 1<<20)

	if stubSize > 0 {
		src, err := os.Open(stub)
		if err != nil {
			return engine.NewConfigError("failed to open bootstrap stub", err).WithPath(stub)
		}
		n, err := io.CopyN(bw, src, stubSize)
		_ = src.Close()
		if err != nil {
			return engine.NewInternalError(fmt.Sprintf("failed to copy stub (%d of %d bytes)", n, stubSize), err).WithPath(stub)
		}
	}

	if _, err := bw.Write(table); err != nil {
		return engine.NewInternalError("failed to write resource table", err)
	}
	if _, err := p.WriteTo(bw); err != nil {
		return engine.NewInternalError("failed to write payload", err)
	}

	raw, err := footer.MarshalBinary()
	if err != nil {
		return engine.NewInternalError("failed to encode footer", err)
	}
	if _, err := bw.Write(raw); err != nil {
		return engine.NewInternalError("failed to write footer", err)
	}
	return bw.Flush()
}

// StubSize returns the number of leading bytes of path that form the bare
// stub: the whole file, or everything before the resource table when the
// file already carries a payload. An empty path means no stub.
func StubSize(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	footer, size, err := readFooter(f)
	if err != nil {
		if engine.IsCorrupt(err) && !hasEndMagic(f, size) {
			return size, nil
		}
		return 0, err
	}
	return int64(footer.ResourceOffset), nil
}

// HasPayload reports whether path ends with a valid footer.
func HasPayload(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = readFooter(f)
	return err == nil
}

func readFooter(f *os.File) (*Footer, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := info.Size()
	if size < FooterSize {
		return nil, size, engine.NewCorruptArtifactError("no payload footer found", nil)
	}
	buf := make([]byte, FooterSize)
	if _, err := f.ReadAt(buf, size-FooterSize); err != nil {
		return nil, size, engine.NewCorruptArtifactError("failed to read footer", err)
	}
	footer, err := ParseFooter(buf, size)
	return footer, size, err
}

func hasEndMagic(f *os.File, size int64) bool {
	if size < int64(len(EndMagic)) {
		return false
	}
	var tail [4]byte
	if _, err := f.ReadAt(tail[:], size-int64(len(tail))); err != nil {
		return false
	}
	return tail == EndMagic
}

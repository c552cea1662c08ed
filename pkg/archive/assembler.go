package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/resources"
)

// Manifest describes the program being packaged.
type Manifest struct {
	Name        string
	Program     string
	Layout      Layout
	Extract     string
	Console     bool
	Interpreter []string
}

// Payload is an assembled payload ready to be written behind a stub.
type Payload struct {
	// Index is the decoded table of contents.
	Index *Index

	entries    []byte
	indexBytes []byte
	checksum   uint64

	// files holds original content for directory builds, keyed by entry name.
	files map[string][]byte
}

// Size returns the payload length in bytes (entries plus index).
func (p *Payload) Size() int64 {
	return int64(len(p.entries) + len(p.indexBytes))
}

// Digest returns the hex SHA-256 of the index bytes. Because the index lists
// every entry digest it fingerprints the whole payload.
func (p *Payload) Digest() string {
	sum := sha256.Sum256(p.indexBytes)
	return hex.EncodeToString(sum[:])
}

// WriteTo writes the payload bytes.
func (p *Payload) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.entries)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(p.indexBytes)
	return int64(n + m), err
}

// ProgressFunc receives the number of processed entries and the total.
type ProgressFunc func(done, total int)

// Assembler packs the module graph and bundled resources into a payload.
type Assembler struct {
	workers  int
	logger   zerolog.Logger
	progress ProgressFunc
}

// NewAssembler creates an assembler compressing with up to workers goroutines.
func NewAssembler(workers int, logger zerolog.Logger) *Assembler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Assembler{
		workers: workers,
		logger:  logger.With().Str("component", "assembler").Logger(),
	}
}

// WithProgress sets a progress callback. It may be called from several goroutines.
func (a *Assembler) WithProgress(fn ProgressFunc) *Assembler {
	a.progress = fn
	return a
}

type item struct {
	entry  Entry
	source string
	data   []byte
	stored []byte
}

// Assemble collects every resolved node with a file and every bundled
// resource, then compresses and indexes them. Entries are ordered by logical
// name and carry no timestamps, so identical inputs produce identical bytes.
func (a *Assembler) Assemble(ctx context.Context, graph *engine.ModuleGraph, bundled []resources.BundledFile, m Manifest) (*Payload, error) {
	entryNode, ok := graph.Node(graph.Entry)
	if !ok || entryNode.LogicalPath == "" {
		return nil, engine.NewInternalError("entry module missing from graph", nil).WithModule(graph.Entry)
	}
	if m.Layout == "" {
		m.Layout = LayoutOnefile
	}

	items, err := collectItems(graph, bundled)
	if err != nil {
		return nil, err
	}

	if err := a.prepare(ctx, items, m.Layout); err != nil {
		return nil, err
	}

	idx := &Index{
		Format:      FormatVersion,
		Name:        m.Name,
		Program:     m.Program,
		Entry:       entryNode.LogicalPath,
		EntryModule: entryNode.Name,
		Layout:      m.Layout,
		Extract:     m.Extract,
		Console:     m.Console,
		Interpreter: m.Interpreter,
		Entries:     make([]Entry, 0, len(items)),
	}

	p := &Payload{Index: idx}
	var region bytes.Buffer
	if m.Layout == LayoutDirectory {
		p.files = make(map[string][]byte, len(items))
	}
	for _, it := range items {
		e := it.entry
		if m.Layout == LayoutDirectory {
			p.files[e.Name] = it.data
		} else {
			e.Offset = int64(region.Len())
			region.Write(it.stored)
		}
		idx.Entries = append(idx.Entries, e)
	}

	indexBytes, err := idx.marshal()
	if err != nil {
		return nil, engine.NewInternalError("failed to encode payload index", err)
	}
	p.entries = region.Bytes()
	p.indexBytes = indexBytes
	p.checksum = xxhash.Sum64(indexBytes)

	a.logger.Debug().
		Int("entries", len(idx.Entries)).
		Int64("payload_bytes", p.Size()).
		Str("layout", string(m.Layout)).
		Msg("payload assembled")

	return p, nil
}

// collectItems gathers files by logical name. Two different sources claiming
// the same logical name is a configuration error.
func collectItems(graph *engine.ModuleGraph, bundled []resources.BundledFile) ([]*item, error) {
	byName := make(map[string]*item)

	for _, node := range graph.Nodes() {
		if node.Unresolved || node.Path == "" || node.LogicalPath == "" {
			continue
		}
		if prev, ok := byName[node.LogicalPath]; ok {
			if prev.source == node.Path {
				continue
			}
			return nil, engine.NewConfigError(
				fmt.Sprintf("logical path %q is claimed by modules %s and %s", node.LogicalPath, prev.entry.Module, node.Name), nil,
			).WithPath(node.Path)
		}
		byName[node.LogicalPath] = &item{
			entry:  Entry{Name: node.LogicalPath, Kind: string(node.Kind), Module: node.Name},
			source: node.Path,
		}
	}

	for _, b := range bundled {
		if prev, ok := byName[b.Name]; ok {
			return nil, engine.NewConfigError(
				fmt.Sprintf("resource %q collides with program file %s", b.Name, prev.source), nil,
			).WithModule(b.Name).WithPath(b.Source)
		}
		byName[b.Name] = &item{
			entry:  Entry{Name: b.Name, Kind: EntryKindResource, Mode: 0o644},
			source: b.Source,
			data:   b.Data,
		}
	}

	items := make([]*item, 0, len(byName))
	for _, it := range byName {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].entry.Name < items[j].entry.Name })
	return items, nil
}

// prepare reads, hashes and compresses every item concurrently.
func (a *Assembler) prepare(ctx context.Context, items []*item, layout Layout) error {
	var enc *zstd.Encoder
	if layout != LayoutDirectory {
		var err error
		enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(a.workers),
			zstd.WithEncoderLevel(zstd.SpeedDefault),
		)
		if err != nil {
			return engine.NewInternalError("failed to create compressor", err)
		}
		defer enc.Close()
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := readItem(it); err != nil {
				return err
			}

			sum := sha256.Sum256(it.data)
			it.entry.SHA256 = hex.EncodeToString(sum[:])
			it.entry.Length = int64(len(it.data))

			it.stored, it.entry.Compression = it.data, CompressionNone
			if enc != nil {
				if c := enc.EncodeAll(it.data, nil); len(c) < len(it.data) {
					it.stored, it.entry.Compression = c, CompressionZstd
				}
			}
			it.entry.Size = int64(len(it.stored))

			if a.progress != nil {
				a.progress(int(done.Add(1)), len(items))
			}
			return nil
		})
	}

	return g.Wait()
}

func readItem(it *item) error {
	if it.data != nil {
		return nil
	}
	info, err := os.Stat(it.source)
	if err != nil {
		return engine.NewInternalError("program file vanished after analysis", err).
			WithModule(it.entry.Module).WithPath(it.source)
	}
	data, err := os.ReadFile(it.source)
	if err != nil {
		return engine.NewInternalError("failed to read program file", err).
			WithModule(it.entry.Module).WithPath(it.source)
	}

	mode := uint32(info.Mode().Perm() | 0o400)
	if it.entry.Kind == string(engine.KindNativeBinary) {
		mode |= 0o755
	}
	it.entry.Mode = mode
	it.data = data
	return nil
}

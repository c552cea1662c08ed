package resources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Embedder turns resource descriptors into native resource entries and bundled files.
type Embedder struct {
	encoder IconEncoder
	logger  zerolog.Logger
}

// NewEmbedder creates an embedder. A nil encoder selects the group-icon encoder.
func NewEmbedder(encoder IconEncoder, logger zerolog.Logger) *Embedder {
	if encoder == nil {
		encoder = GroupIconEncoder{}
	}
	return &Embedder{
		encoder: encoder,
		logger:  logger.With().Str("component", "embedder").Logger(),
	}
}

// Embed validates every descriptor before reading any file, then encodes the
// native icon and collects bundled data. Any error aborts the build.
func (e *Embedder) Embed(descriptors []Descriptor) (*Embedded, error) {
	if err := validateDescriptors(descriptors); err != nil {
		return nil, err
	}

	out := &Embedded{
		Table:   NewTable(),
		Bundled: make([]BundledFile, 0, len(descriptors)),
	}

	for _, d := range descriptors {
		data, err := os.ReadFile(d.Source)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, engine.NewResourceMissingError(d.Name, d.Source, err)
			}
			return nil, engine.NewInternalError("failed to read resource", err).WithModule(d.Name).WithPath(d.Source)
		}

		if d.Mode.Native() {
			blob, err := e.encoder.EncodeIcon(data)
			if err != nil {
				return nil, engine.NewConfigError(fmt.Sprintf("cannot encode icon with %s encoder", e.encoder.Name()), err).
					WithModule(d.Name).WithPath(d.Source)
			}
			out.Table.AddBlob(blob)
			e.logger.Debug().
				Str("resource", d.Name).
				Str("encoder", e.encoder.Name()).
				Int("entries", len(blob.Entries)).
				Msg("encoded native icon")
		}

		if d.Mode.Bundled() {
			out.Bundled = append(out.Bundled, BundledFile{Name: d.Name, Source: d.Source, Data: data})
		}
	}

	return out, nil
}

// validateDescriptors checks modes, names and sources. Missing sources are
// reported only after every descriptor is known to be well formed.
func validateDescriptors(descriptors []Descriptor) error {
	natives := 0
	names := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if !d.Mode.Valid() {
			return engine.NewConfigError(fmt.Sprintf("unknown embedding mode %q", d.Mode), nil).
				WithCode(engine.ErrCodeUnknownMode).WithModule(d.Name)
		}
		if !ValidLogicalName(d.Name) {
			return engine.NewConfigError(fmt.Sprintf("invalid logical resource name %q", d.Name), nil).WithModule(d.Name)
		}
		if names[d.Name] {
			return engine.NewConfigError(fmt.Sprintf("duplicate resource name %q", d.Name), nil).WithModule(d.Name)
		}
		names[d.Name] = true
		if d.Mode.Native() {
			natives++
		}
	}
	if natives > 1 {
		return engine.NewConfigError("only one resource may be embedded as the native icon", nil)
	}

	for _, d := range descriptors {
		info, err := os.Stat(d.Source)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return engine.NewResourceMissingError(d.Name, d.Source, err)
			}
			return engine.NewInternalError("failed to stat resource", err).WithModule(d.Name).WithPath(d.Source)
		}
		if info.IsDir() {
			return engine.NewConfigError("resource source is a directory", nil).WithModule(d.Name).WithPath(d.Source)
		}
	}
	return nil
}

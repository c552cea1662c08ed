// Package archive assembles the single-file build artifact and reads it back.
//
// An artifact is laid out as
//
//	{bootstrap stub}{native resource table}{payload}{footer}
//
// The payload holds the compressed entries followed by a JSON index. The
// fixed-size footer sits at the very end of the file so a launcher can find
// everything else by reading the last FooterSize bytes.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Format constants.
const (
	// FormatVersion is the artifact format version written by this package.
	FormatVersion uint32 = 1

	// FooterSize is the fixed size of the footer in bytes.
	FooterSize = 72
)

var (
	// StartMagic opens the footer (U+1F366, soft ice cream).
	StartMagic = [4]byte{0xF0, 0x9F, 0x8D, 0xA6}

	// EndMagic closes the footer and is the last 4 bytes of every artifact (U+1F4E6, package).
	EndMagic = [4]byte{0xF0, 0x9F, 0x93, 0xA6}
)

// Footer flags.
const (
	FlagConsole   uint32 = 1 << 0
	FlagDirectory uint32 = 1 << 1
)

// Footer locates the resource table, payload and index inside an artifact.
// All offsets are absolute file offsets except IndexOffset, which is relative
// to the payload start.
//
// Layout (little-endian):
//
//	0  start magic      [4]byte
//	4  version          u32
//	8  flags            u32
//	12 resource offset  u64
//	20 resource length  u64
//	28 payload offset   u64
//	36 payload length   u64
//	44 index offset     u64
//	52 index length     u64
//	60 index checksum   u64 (xxhash64 of the index bytes)
//	68 end magic        [4]byte
type Footer struct {
	Version        uint32
	Flags          uint32
	ResourceOffset uint64
	ResourceLength uint64
	PayloadOffset  uint64
	PayloadLength  uint64
	IndexOffset    uint64
	IndexLength    uint64
	IndexChecksum  uint64
}

// Console reports whether the console flag is set.
func (f *Footer) Console() bool { return f.Flags&FlagConsole != 0 }

// Directory reports whether the artifact uses the directory layout.
func (f *Footer) Directory() bool { return f.Flags&FlagDirectory != 0 }

// MarshalBinary encodes the footer into exactly FooterSize bytes.
func (f *Footer) MarshalBinary() ([]byte, error) {
	b := make([]byte, FooterSize)
	copy(b[0:4], StartMagic[:])
	binary.LittleEndian.PutUint32(b[4:], f.Version)
	binary.LittleEndian.PutUint32(b[8:], f.Flags)
	binary.LittleEndian.PutUint64(b[12:], f.ResourceOffset)
	binary.LittleEndian.PutUint64(b[20:], f.ResourceLength)
	binary.LittleEndian.PutUint64(b[28:], f.PayloadOffset)
	binary.LittleEndian.PutUint64(b[36:], f.PayloadLength)
	binary.LittleEndian.PutUint64(b[44:], f.IndexOffset)
	binary.LittleEndian.PutUint64(b[52:], f.IndexLength)
	binary.LittleEndian.PutUint64(b[60:], f.IndexChecksum)
	copy(b[68:72], EndMagic[:])
	return b, nil
}

// ParseFooter decodes and validates a footer read from the end of a file of the given size.
func ParseFooter(b []byte, fileSize int64) (*Footer, error) {
	if len(b) != FooterSize {
		return nil, engine.NewCorruptArtifactError(fmt.Sprintf("footer must be %d bytes, got %d", FooterSize, len(b)), nil)
	}
	if !bytes.Equal(b[68:72], EndMagic[:]) {
		return nil, engine.NewCorruptArtifactError("no payload footer found", nil)
	}
	if !bytes.Equal(b[0:4], StartMagic[:]) {
		return nil, engine.NewCorruptArtifactError("footer start magic mismatch", nil)
	}

	f := &Footer{
		Version:        binary.LittleEndian.Uint32(b[4:]),
		Flags:          binary.LittleEndian.Uint32(b[8:]),
		ResourceOffset: binary.LittleEndian.Uint64(b[12:]),
		ResourceLength: binary.LittleEndian.Uint64(b[20:]),
		PayloadOffset:  binary.LittleEndian.Uint64(b[28:]),
		PayloadLength:  binary.LittleEndian.Uint64(b[36:]),
		IndexOffset:    binary.LittleEndian.Uint64(b[44:]),
		IndexLength:    binary.LittleEndian.Uint64(b[52:]),
		IndexChecksum:  binary.LittleEndian.Uint64(b[60:]),
	}

	if f.Version != FormatVersion {
		return nil, engine.NewCorruptArtifactError(fmt.Sprintf("unsupported artifact format version %d", f.Version), nil)
	}
	if err := f.validate(fileSize); err != nil {
		return nil, err
	}
	return f, nil
}

// validate checks that the regions are contiguous and end at the footer.
func (f *Footer) validate(fileSize int64) error {
	if fileSize < FooterSize {
		return engine.NewCorruptArtifactError("file is smaller than a footer", nil)
	}
	end := uint64(fileSize - FooterSize)

	switch {
	case f.ResourceOffset+f.ResourceLength < f.ResourceOffset:
		return engine.NewCorruptArtifactError("resource table bounds overflow", nil)
	case f.ResourceOffset+f.ResourceLength != f.PayloadOffset:
		return engine.NewCorruptArtifactError("resource table does not end at the payload", nil)
	case f.PayloadOffset+f.PayloadLength < f.PayloadOffset || f.PayloadOffset+f.PayloadLength != end:
		return engine.NewCorruptArtifactError("payload does not end at the footer", nil)
	case f.IndexOffset+f.IndexLength < f.IndexOffset || f.IndexOffset+f.IndexLength != f.PayloadLength:
		return engine.NewCorruptArtifactError("index does not end the payload", nil)
	case f.IndexLength == 0:
		return engine.NewCorruptArtifactError("payload has no index", nil)
	}
	return nil
}

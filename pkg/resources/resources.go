// Package resources embeds auxiliary files into a build: application icons
// become entries of the native resource table, bundled data is carried
// verbatim into the payload under its logical name.
package resources

import (
	"fmt"
	"path"
	"strings"
)

// Mode selects how a resource is embedded.
type Mode string

const (
	// ModeNativeIcon encodes the resource into the executable's native resource table only.
	ModeNativeIcon Mode = "native-icon"

	// ModeBundledData stores the raw bytes in the payload only.
	ModeBundledData Mode = "bundled-data"

	// ModeBoth does both.
	ModeBoth Mode = "both"
)

// Valid reports whether m is a known embedding mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNativeIcon, ModeBundledData, ModeBoth:
		return true
	default:
		return false
	}
}

// Native reports whether the resource goes into the native resource table.
func (m Mode) Native() bool {
	return m == ModeNativeIcon || m == ModeBoth
}

// Bundled reports whether the resource goes into the payload.
func (m Mode) Bundled() bool {
	return m == ModeBundledData || m == ModeBoth
}

// Descriptor declares one resource to embed.
type Descriptor struct {
	// Name is the logical name used to look the resource up at runtime.
	Name string `json:"name"`

	// Source is the file on disk.
	Source string `json:"source"`

	// Mode is the embedding mode.
	Mode Mode `json:"mode"`
}

// BundledFile is a resource carried verbatim in the payload.
type BundledFile struct {
	Name   string
	Source string
	Data   []byte
}

// Embedded is the output of the embedder.
type Embedded struct {
	// Table holds the native resources. Empty when no native icon was requested.
	Table *Table

	// Bundled holds the data files, in descriptor order.
	Bundled []BundledFile
}

// IconEncoder turns an icon source file into native resource entries.
// Alternate platform encoders can be substituted without touching the assembler.
type IconEncoder interface {
	// Name returns the encoder name recorded in the build report.
	Name() string

	// EncodeIcon encodes the source bytes.
	EncodeIcon(src []byte) (*ResourceBlob, error)
}

// ResourceBlob is a set of native resource entries produced by an encoder.
type ResourceBlob struct {
	Entries []NativeResource
}

// Encoder names.
const (
	EncoderGroupIcon  = "group-icon"
	EncoderICNS       = "icns"
	EncoderWASMPrefix = "wasm:"
)

// ParseEncoderName validates an encoder name. For "wasm:<path>" names the plugin path is returned.
func ParseEncoderName(name string) (pluginPath string, err error) {
	switch {
	case name == "" || name == EncoderGroupIcon || name == EncoderICNS:
		return "", nil
	case strings.HasPrefix(name, EncoderWASMPrefix):
		p := strings.TrimPrefix(name, EncoderWASMPrefix)
		if p == "" {
			return "", fmt.Errorf("wasm encoder requires a plugin path")
		}
		return p, nil
	default:
		return "", fmt.Errorf("unknown icon encoder %q (want %s, %s or %s<path>)", name, EncoderGroupIcon, EncoderICNS, EncoderWASMPrefix)
	}
}

// NewEncoder returns a built-in encoder by name. Plugin encoders are created by the wasmenc package.
func NewEncoder(name string) (IconEncoder, error) {
	switch name {
	case "", EncoderGroupIcon:
		return GroupIconEncoder{}, nil
	case EncoderICNS:
		return ICNSEncoder{}, nil
	default:
		return nil, fmt.Errorf("no built-in icon encoder named %q", name)
	}
}

// ValidLogicalName reports whether name is a clean, relative slash path.
func ValidLogicalName(name string) bool {
	if name == "" || strings.Contains(name, `\`) || path.IsAbs(name) {
		return false
	}
	clean := path.Clean(name)
	return clean == name && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

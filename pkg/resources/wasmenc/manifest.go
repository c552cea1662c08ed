package wasmenc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes an encoder plugin. It lives next to the module as
// <name>.yaml and is optional.
type Manifest struct {
	// Name is recorded in the build report. Defaults to the module file name.
	Name string `yaml:"name"`

	// Version is informational.
	Version string `yaml:"version,omitempty"`

	// SHA256 pins the module contents when set.
	SHA256 string `yaml:"sha256,omitempty"`

	// MemoryLimitPages caps guest memory in 64 KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty"`

	// Timeout bounds a single encode.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ManifestPath returns the manifest location for a plugin module.
func ManifestPath(modulePath string) string {
	return strings.TrimSuffix(modulePath, filepath.Ext(modulePath)) + ".yaml"
}

// LoadManifest reads the manifest next to modulePath. A missing manifest
// yields the defaults.
func LoadManifest(modulePath string) (*Manifest, error) {
	m := &Manifest{}

	data, err := os.ReadFile(ManifestPath(modulePath))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read plugin manifest: %w", err)
	default:
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to parse plugin manifest: %w", err)
		}
	}

	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(modulePath), filepath.Ext(modulePath))
	}
	if m.MemoryLimitPages == 0 {
		m.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if m.Timeout <= 0 {
		m.Timeout = DefaultTimeout
	}
	return m, nil
}

// VerifyChecksum checks the module against the pinned digest, if any.
func (m *Manifest) VerifyChecksum(module []byte) error {
	if m.SHA256 == "" {
		return nil
	}
	sum := sha256.Sum256(module)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, m.SHA256) {
		return fmt.Errorf("plugin checksum mismatch: expected %s, got %s", m.SHA256, got)
	}
	return nil
}

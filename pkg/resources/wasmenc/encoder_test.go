package wasmenc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/resources"
)

func iconTable(t *testing.T) []byte {
	t.Helper()
	table := resources.NewTable()
	table.Add(resources.NativeResource{Type: resources.TypeICNS, ID: 1, Data: []byte("icns\x00\x00\x00\x08")})
	data, err := table.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal table: %v", err)
	}
	return data
}

func newTestEncoder(t *testing.T, module []byte, m *Manifest) *Encoder {
	t.Helper()
	ctx := context.Background()
	enc, err := New(ctx, module, m, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	t.Cleanup(func() { _ = enc.Close(ctx) })
	return enc
}

func TestEncoder_EncodeIcon(t *testing.T) {
	enc := newTestEncoder(t, wasiModule(iconTable(t), 0), &Manifest{Name: "icns"})

	if enc.Name() != "wasm:icns" {
		t.Errorf("unexpected name %q", enc.Name())
	}

	// Each call runs a fresh instance.
	for i := 0; i < 2; i++ {
		blob, err := enc.EncodeIcon([]byte("\x89PNG"))
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		want := []resources.NativeResource{{Type: resources.TypeICNS, ID: 1, Data: []byte("icns\x00\x00\x00\x08")}}
		if diff := cmp.Diff(want, blob.Entries); diff != "" {
			t.Errorf("entries mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncoder_Failures(t *testing.T) {
	tests := []struct {
		name    string
		module  []byte
		wantErr string
	}{
		{name: "non-zero exit", module: wasiModule([]byte("bad icon"), 3), wantErr: "exited with status 3"},
		{name: "garbage output", module: wasiModule([]byte("not a table"), 0), wantErr: "invalid resource table"},
		{name: "no output", module: wasiModule(nil, 0), wantErr: "produced no resources"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newTestEncoder(t, tt.module, nil)
			_, err := enc.EncodeIcon([]byte("icon"))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNew_InvalidModule(t *testing.T) {
	if _, err := New(context.Background(), []byte("not wasm"), nil, zerolog.Nop()); err == nil {
		t.Error("expected compile error")
	}
}

func TestNew_ChecksumPinned(t *testing.T) {
	module := wasiModule(iconTable(t), 0)
	sum := sha256.Sum256(module)

	if _, err := New(context.Background(), module, &Manifest{Name: "x", SHA256: strings.Repeat("0", 64)}, zerolog.Nop()); err == nil {
		t.Error("expected checksum mismatch")
	}
	newTestEncoder(t, module, &Manifest{Name: "x", SHA256: strings.ToUpper(hex.EncodeToString(sum[:]))})
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	plugin := filepath.Join(dir, "icns.wasm")

	m, err := LoadManifest(plugin)
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	want := &Manifest{Name: "icns", MemoryLimitPages: DefaultMemoryLimitPages, Timeout: DefaultTimeout}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	manifest := "name: apple-icns\nversion: 1.2.0\nmemory_limit_pages: 64\ntimeout: 5s\n"
	if err := os.WriteFile(filepath.Join(dir, "icns.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err = LoadManifest(plugin)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}
	want = &Manifest{Name: "apple-icns", Version: "1.2.0", MemoryLimitPages: 64, Timeout: 5 * time.Second}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(filepath.Join(dir, "icns.yaml"), []byte("name: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(plugin); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "enc.wasm"), wasiModule(iconTable(t), 0), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		encoder  string
		wantName string
		wantErr  bool
	}{
		{name: "default", encoder: "", wantName: resources.EncoderGroupIcon},
		{name: "icns", encoder: "icns", wantName: resources.EncoderICNS},
		{name: "plugin", encoder: "wasm:enc.wasm", wantName: "wasm:enc"},
		{name: "missing plugin", encoder: "wasm:missing.wasm", wantErr: true},
		{name: "unknown", encoder: "bmp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, release, err := Resolve(ctx, tt.encoder, dir, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			defer release()
			if enc.Name() != tt.wantName {
				t.Errorf("expected %q, got %q", tt.wantName, enc.Name())
			}
		})
	}
}

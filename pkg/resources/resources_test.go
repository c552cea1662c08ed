package resources

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/engine"
)

func makePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func makeICO(t *testing.T, sizes ...int) []byte {
	t.Helper()
	images := make([]IconImage, 0, len(sizes))
	for _, s := range sizes {
		images = append(images, IconImage{Width: s, Height: s, Planes: 1, BitCount: 32, Data: makePNG(t, s)})
	}
	return EncodeICO(images)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return p
}

func TestDecodeIcon(t *testing.T) {
	ico := makeICO(t, 16, 32, 256)

	images, err := DecodeIcon(ico)
	if err != nil {
		t.Fatalf("DecodeIcon failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(images))
	}
	if images[2].Width != 256 {
		t.Errorf("Expected width 256 for a zero dimension byte, got %d", images[2].Width)
	}
	if !images[0].IsPNG() {
		t.Error("Expected PNG-compressed image data")
	}

	single, err := DecodeIcon(makePNG(t, 48))
	if err != nil {
		t.Fatalf("DecodeIcon(png) failed: %v", err)
	}
	if len(single) != 1 || single[0].Width != 48 {
		t.Errorf("Expected one 48px image, got %+v", single)
	}

	if _, err := DecodeIcon([]byte("not an icon")); err == nil {
		t.Error("Expected error for garbage input")
	}
}

func TestGroupIconEncoder_RoundTrip(t *testing.T) {
	ico := makeICO(t, 16, 32, 48)

	blob, err := GroupIconEncoder{}.EncodeIcon(ico)
	if err != nil {
		t.Fatalf("EncodeIcon failed: %v", err)
	}

	table := NewTable()
	table.AddBlob(blob)
	if got := len(table.OfType(TypeIcon)); got != 3 {
		t.Errorf("Expected 3 RT_ICON entries, got %d", got)
	}
	group, ok := table.Find(TypeGroupIcon, 1)
	if !ok {
		t.Fatal("Expected an RT_GROUP_ICON entry")
	}
	if got := binary.LittleEndian.Uint16(group.Data[4:]); got != 3 {
		t.Errorf("Expected group directory count 3, got %d", got)
	}
	if want := icoHeaderSize + 3*groupDirEntrySize; len(group.Data) != want {
		t.Errorf("Expected group directory of %d bytes, got %d", want, len(group.Data))
	}

	raw, err := table.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(raw)%tableAlign != 0 {
		t.Errorf("Expected table size aligned to %d, got %d", tableAlign, len(raw))
	}

	parsed, err := ParseTable(raw)
	if err != nil {
		t.Fatalf("ParseTable failed: %v", err)
	}
	rebuilt, found, err := ReadIcon(parsed)
	if err != nil || !found {
		t.Fatalf("ReadIcon failed: found=%v err=%v", found, err)
	}
	if !bytes.Equal(rebuilt, ico) {
		t.Error("Expected reconstructed icon to equal the source icon")
	}
}

func TestReadIcon_NoIcon(t *testing.T) {
	_, found, err := ReadIcon(NewTable())
	if err != nil || found {
		t.Errorf("Expected no icon and no error, got found=%v err=%v", found, err)
	}
}

func TestParseTable_Errors(t *testing.T) {
	if tbl, err := ParseTable(nil); err != nil || tbl.Len() != 0 {
		t.Errorf("Expected empty table for no data, got %v %v", tbl, err)
	}
	if _, err := ParseTable([]byte("XXXX\x01\x00\x00\x00")); err == nil {
		t.Error("Expected error for bad magic")
	}
	if _, err := ParseTable([]byte("FRSC\x01\x00\x05\x00")); err == nil {
		t.Error("Expected error for truncated table")
	}
}

func TestICNSEncoder(t *testing.T) {
	ico := makeICO(t, 16, 32, 20)

	blob, err := ICNSEncoder{}.EncodeIcon(ico)
	if err != nil {
		t.Fatalf("EncodeIcon failed: %v", err)
	}
	if len(blob.Entries) != 1 || blob.Entries[0].Type != TypeICNS {
		t.Fatalf("Expected a single icns entry, got %+v", blob.Entries)
	}

	data := blob.Entries[0].Data
	if string(data[:4]) != "icns" {
		t.Errorf("Expected icns magic, got %q", data[:4])
	}
	if got := binary.BigEndian.Uint32(data[4:]); int(got) != len(data) {
		t.Errorf("Expected total length %d, got %d", len(data), got)
	}
	if string(data[8:12]) != "icp4" {
		t.Errorf("Expected first element icp4, got %q", data[8:12])
	}
	if !bytes.Contains(data, []byte("icp5")) {
		t.Error("Expected a 32px icp5 element")
	}

	if _, err := (ICNSEncoder{}).EncodeIcon(makePNG(t, 20)); err == nil {
		t.Error("Expected error when no frame has a supported size")
	}
}

func TestEmbedder_Embed(t *testing.T) {
	dir := t.TempDir()
	ico := makeICO(t, 32)
	icoPath := writeFile(t, dir, "favicon.ico", ico)
	dataPath := writeFile(t, dir, "defaults.json", []byte(`{"items":[]}`))

	embedder := NewEmbedder(nil, zerolog.Nop())
	out, err := embedder.Embed([]Descriptor{
		{Name: "favicon.ico", Source: icoPath, Mode: ModeBoth},
		{Name: "data/defaults.json", Source: dataPath, Mode: ModeBundledData},
	})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if got := len(out.Table.OfType(TypeIcon)); got != 1 {
		t.Errorf("Expected 1 RT_ICON entry, got %d", got)
	}
	if got := len(out.Table.OfType(TypeGroupIcon)); got != 1 {
		t.Errorf("Expected 1 RT_GROUP_ICON entry, got %d", got)
	}
	if len(out.Bundled) != 2 {
		t.Fatalf("Expected 2 bundled files, got %d", len(out.Bundled))
	}
	if out.Bundled[0].Name != "favicon.ico" || !bytes.Equal(out.Bundled[0].Data, ico) {
		t.Error("Expected favicon.ico to be bundled byte-identical")
	}
}

func TestEmbedder_Errors(t *testing.T) {
	dir := t.TempDir()
	icoPath := writeFile(t, dir, "favicon.ico", makeICO(t, 16))
	garbage := writeFile(t, dir, "broken.ico", []byte("garbage"))

	tests := []struct {
		name    string
		descs   []Descriptor
		missing bool
		config  bool
	}{
		{
			name:    "missing source",
			descs:   []Descriptor{{Name: "favicon.ico", Source: filepath.Join(dir, "nope.ico"), Mode: ModeBoth}},
			missing: true,
		},
		{
			name: "unknown mode before missing source",
			descs: []Descriptor{
				{Name: "a", Source: filepath.Join(dir, "nope.ico"), Mode: ModeBoth},
				{Name: "b", Source: icoPath, Mode: "sideload"},
			},
			config: true,
		},
		{
			name:   "two native icons",
			descs:  []Descriptor{{Name: "a.ico", Source: icoPath, Mode: ModeNativeIcon}, {Name: "b.ico", Source: icoPath, Mode: ModeBoth}},
			config: true,
		},
		{
			name:   "escaping logical name",
			descs:  []Descriptor{{Name: "../favicon.ico", Source: icoPath, Mode: ModeBundledData}},
			config: true,
		},
		{
			name:   "undecodable icon",
			descs:  []Descriptor{{Name: "broken.ico", Source: garbage, Mode: ModeNativeIcon}},
			config: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEmbedder(GroupIconEncoder{}, zerolog.Nop()).Embed(tt.descs)
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := engine.IsResourceMissing(err); got != tt.missing {
				t.Errorf("IsResourceMissing = %v, want %v (%v)", got, tt.missing, err)
			}
			if got := engine.IsConfigError(err); got != tt.config {
				t.Errorf("IsConfigError = %v, want %v (%v)", got, tt.config, err)
			}
		})
	}
}

func TestValidLogicalName(t *testing.T) {
	tests := map[string]bool{
		"favicon.ico":        true,
		"data/defaults.json": true,
		"":                   false,
		"/etc/passwd":        false,
		"../up":              false,
		"a/../b":             false,
		`dir\file`:           false,
		"./favicon.ico":      false,
	}
	for name, want := range tests {
		if got := ValidLogicalName(name); got != want {
			t.Errorf("ValidLogicalName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseEncoderName(t *testing.T) {
	if p, err := ParseEncoderName("wasm:plugins/icns.wasm"); err != nil || p != "plugins/icns.wasm" {
		t.Errorf("Expected plugin path, got %q %v", p, err)
	}
	if _, err := ParseEncoderName("wasm:"); err == nil {
		t.Error("Expected error for empty plugin path")
	}
	if _, err := ParseEncoderName("bmp"); err == nil {
		t.Error("Expected error for unknown encoder")
	}
	if _, err := NewEncoder(EncoderICNS); err != nil {
		t.Errorf("NewEncoder(icns) failed: %v", err)
	}
}

package resources

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"sort"
)

// icnsTypes maps square PNG sizes to their Apple icon family element types.
var icnsTypes = map[int]string{
	16:   "icp4",
	32:   "icp5",
	64:   "icp6",
	128:  "ic07",
	256:  "ic08",
	512:  "ic09",
	1024: "ic10",
}

// ICNSEncoder produces an Apple icon family from PNG frames. ICO sources
// contribute their PNG-compressed images; bitmap frames are skipped.
type ICNSEncoder struct{}

// Name returns "icns".
func (ICNSEncoder) Name() string { return EncoderICNS }

// EncodeIcon encodes the source into a single TypeICNS resource.
func (ICNSEncoder) EncodeIcon(src []byte) (*ResourceBlob, error) {
	images, err := DecodeIcon(src)
	if err != nil {
		return nil, err
	}

	frames := make(map[string][]byte)
	for _, img := range images {
		if !img.IsPNG() {
			continue
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
		if err != nil || cfg.Width != cfg.Height {
			continue
		}
		if typ, ok := icnsTypes[cfg.Width]; ok {
			frames[typ] = img.Data
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no square PNG frame of a supported size (16-1024) in icon")
	}

	types := make([]string, 0, len(frames))
	for typ := range frames {
		types = append(types, typ)
	}
	sort.Strings(types)

	var body bytes.Buffer
	for _, typ := range types {
		body.WriteString(typ)
		_ = binary.Write(&body, binary.BigEndian, uint32(8+len(frames[typ])))
		body.Write(frames[typ])
	}

	var out bytes.Buffer
	out.WriteString("icns")
	_ = binary.Write(&out, binary.BigEndian, uint32(8+body.Len()))
	out.Write(body.Bytes())

	return &ResourceBlob{Entries: []NativeResource{{Type: TypeICNS, ID: 1, Data: out.Bytes()}}}, nil
}

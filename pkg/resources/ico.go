package resources

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/png"
)

const (
	icoHeaderSize     = 6
	icoDirEntrySize   = 16
	groupDirEntrySize = 14
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// IconImage is one resolution of an icon.
type IconImage struct {
	// Width and Height are in pixels; 256 is stored as 0 in directory entries.
	Width, Height int
	ColorCount    uint8
	Planes        uint16
	BitCount      uint16

	// Data is a PNG stream or a headerless DIB.
	Data []byte
}

// IsPNG reports whether the image data is PNG compressed.
func (img IconImage) IsPNG() bool {
	return bytes.HasPrefix(img.Data, pngSignature)
}

// ErrNotIcon is returned for sources that are neither ICO nor PNG.
var ErrNotIcon = errors.New("source is not an ICO or PNG image")

// DecodeIcon reads every image of an .ico file, or a single image from a .png file.
func DecodeIcon(src []byte) ([]IconImage, error) {
	if bytes.HasPrefix(src, pngSignature) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("invalid PNG icon: %w", err)
		}
		return []IconImage{{
			Width:    cfg.Width,
			Height:   cfg.Height,
			Planes:   1,
			BitCount: 32,
			Data:     src,
		}}, nil
	}

	if len(src) < icoHeaderSize {
		return nil, ErrNotIcon
	}
	if binary.LittleEndian.Uint16(src[0:]) != 0 || binary.LittleEndian.Uint16(src[2:]) != 1 {
		return nil, ErrNotIcon
	}

	count := int(binary.LittleEndian.Uint16(src[4:]))
	if count == 0 {
		return nil, fmt.Errorf("icon contains no images")
	}
	if len(src) < icoHeaderSize+count*icoDirEntrySize {
		return nil, fmt.Errorf("icon directory truncated")
	}

	images := make([]IconImage, 0, count)
	for i := 0; i < count; i++ {
		e := src[icoHeaderSize+i*icoDirEntrySize:]
		size := uint64(binary.LittleEndian.Uint32(e[8:]))
		offset := uint64(binary.LittleEndian.Uint32(e[12:]))
		if offset+size > uint64(len(src)) {
			return nil, fmt.Errorf("icon image %d out of bounds", i)
		}
		images = append(images, IconImage{
			Width:      dimension(e[0]),
			Height:     dimension(e[1]),
			ColorCount: e[2],
			Planes:     binary.LittleEndian.Uint16(e[4:]),
			BitCount:   binary.LittleEndian.Uint16(e[6:]),
			Data:       src[offset : offset+size],
		})
	}
	return images, nil
}

// EncodeICO writes images as an .ico file.
func EncodeICO(images []IconImage) []byte {
	var buf bytes.Buffer
	writeIconDirHeader(&buf, len(images))

	offset := icoHeaderSize + icoDirEntrySize*len(images)
	for _, img := range images {
		writeDirEntryPrefix(&buf, img)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(img.Data)))
		_ = binary.Write(&buf, binary.LittleEndian, uint32(offset))
		offset += len(img.Data)
	}
	for _, img := range images {
		buf.Write(img.Data)
	}
	return buf.Bytes()
}

// GroupIconEncoder produces the Windows group-icon layout: one RT_ICON entry
// per resolution and an RT_GROUP_ICON directory referencing them.
type GroupIconEncoder struct{}

// Name returns "group-icon".
func (GroupIconEncoder) Name() string { return EncoderGroupIcon }

// EncodeIcon encodes an .ico (all resolutions kept) or .png (single resolution) source.
func (GroupIconEncoder) EncodeIcon(src []byte) (*ResourceBlob, error) {
	images, err := DecodeIcon(src)
	if err != nil {
		return nil, err
	}

	blob := &ResourceBlob{Entries: make([]NativeResource, 0, len(images)+1)}

	var group bytes.Buffer
	writeIconDirHeader(&group, len(images))
	for i, img := range images {
		id := uint16(i + 1)
		blob.Entries = append(blob.Entries, NativeResource{Type: TypeIcon, ID: id, Data: img.Data})

		writeDirEntryPrefix(&group, img)
		_ = binary.Write(&group, binary.LittleEndian, uint32(len(img.Data)))
		_ = binary.Write(&group, binary.LittleEndian, id)
	}
	blob.Entries = append(blob.Entries, NativeResource{Type: TypeGroupIcon, ID: 1, Data: group.Bytes()})
	return blob, nil
}

// ReadIcon reconstructs an .ico file from the first group icon of a table.
// It returns false when the table carries no group icon.
func ReadIcon(t *Table) ([]byte, bool, error) {
	groups := t.OfType(TypeGroupIcon)
	if len(groups) == 0 {
		return nil, false, nil
	}
	dir := groups[0].Data

	if len(dir) < icoHeaderSize {
		return nil, true, fmt.Errorf("group icon directory truncated")
	}
	count := int(binary.LittleEndian.Uint16(dir[4:]))
	if len(dir) < icoHeaderSize+count*groupDirEntrySize {
		return nil, true, fmt.Errorf("group icon directory truncated")
	}

	images := make([]IconImage, 0, count)
	for i := 0; i < count; i++ {
		e := dir[icoHeaderSize+i*groupDirEntrySize:]
		id := binary.LittleEndian.Uint16(e[12:])
		icon, ok := t.Find(TypeIcon, id)
		if !ok {
			return nil, true, fmt.Errorf("group icon references missing icon %d", id)
		}
		images = append(images, IconImage{
			Width:      dimension(e[0]),
			Height:     dimension(e[1]),
			ColorCount: e[2],
			Planes:     binary.LittleEndian.Uint16(e[4:]),
			BitCount:   binary.LittleEndian.Uint16(e[6:]),
			Data:       icon.Data,
		})
	}
	return EncodeICO(images), true, nil
}

func writeIconDirHeader(buf *bytes.Buffer, count int) {
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(count))
}

// writeDirEntryPrefix writes the 8 bytes shared by ICONDIRENTRY and GRPICONDIRENTRY.
func writeDirEntryPrefix(buf *bytes.Buffer, img IconImage) {
	buf.WriteByte(dimensionByte(img.Width))
	buf.WriteByte(dimensionByte(img.Height))
	buf.WriteByte(img.ColorCount)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.LittleEndian, img.Planes)
	_ = binary.Write(buf, binary.LittleEndian, img.BitCount)
}

func dimension(b byte) int {
	if b == 0 {
		return 256
	}
	return int(b)
}

func dimensionByte(n int) byte {
	if n >= 256 {
		return 0
	}
	return byte(n)
}

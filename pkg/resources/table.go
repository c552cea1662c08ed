package resources

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Native resource types. The numeric values of icon types follow the Windows
// resource compiler so tools can map entries one to one.
const (
	TypeIcon      uint16 = 3
	TypeGroupIcon uint16 = 14
	TypeICNS      uint16 = 0x8001
)

const (
	tableMagic      = "FRSC"
	tableVersion    = 1
	tableHeaderSize = 8
	tableEntrySize  = 16
	tableAlign      = 8
)

// NativeResource is a single entry of the native resource table.
type NativeResource struct {
	Type uint16
	ID   uint16
	Lang uint16
	Data []byte
}

// Table is a portable native resource table stored between the stub and the payload.
//
// Layout (little-endian):
//
//	magic "FRSC" | version u16 | count u16
//	count x { type u16 | id u16 | lang u16 | reserved u16 | offset u32 | size u32 }
//	data, each entry aligned to 8 bytes; offsets are relative to the table start
type Table struct {
	entries []NativeResource
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add inserts or replaces an entry with the same type, id and language.
func (t *Table) Add(r NativeResource) {
	for i, e := range t.entries {
		if e.Type == r.Type && e.ID == r.ID && e.Lang == r.Lang {
			t.entries[i] = r
			return
		}
	}
	t.entries = append(t.entries, r)
}

// AddBlob inserts every entry of an encoder blob.
func (t *Table) AddBlob(blob *ResourceBlob) {
	for _, r := range blob.Entries {
		t.Add(r)
	}
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the entries sorted by type, id and language.
func (t *Table) Entries() []NativeResource {
	out := make([]NativeResource, len(t.entries))
	copy(out, t.entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Lang < out[j].Lang
	})
	return out
}

// Find returns the first entry with the given type and id, any language.
func (t *Table) Find(typ, id uint16) (NativeResource, bool) {
	for _, e := range t.Entries() {
		if e.Type == typ && e.ID == id {
			return e, true
		}
	}
	return NativeResource{}, false
}

// OfType returns the entries of one type sorted by id.
func (t *Table) OfType(typ uint16) []NativeResource {
	out := make([]NativeResource, 0)
	for _, e := range t.Entries() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// MarshalBinary serializes the table. An empty table serializes to zero bytes.
func (t *Table) MarshalBinary() ([]byte, error) {
	entries := t.Entries()
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > 0xFFFF {
		return nil, fmt.Errorf("resource table has too many entries: %d", len(entries))
	}

	var buf bytes.Buffer
	buf.WriteString(tableMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(tableVersion))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))

	offset := align(tableHeaderSize + tableEntrySize*len(entries))
	for _, e := range entries {
		if uint64(len(e.Data)) > 0xFFFFFFFF {
			return nil, fmt.Errorf("resource %d/%d is too large", e.Type, e.ID)
		}
		hdr := [tableEntrySize]byte{}
		binary.LittleEndian.PutUint16(hdr[0:], e.Type)
		binary.LittleEndian.PutUint16(hdr[2:], e.ID)
		binary.LittleEndian.PutUint16(hdr[4:], e.Lang)
		binary.LittleEndian.PutUint32(hdr[8:], uint32(offset))
		binary.LittleEndian.PutUint32(hdr[12:], uint32(len(e.Data)))
		buf.Write(hdr[:])
		offset = align(offset + len(e.Data))
	}

	for _, e := range entries {
		pad(&buf)
		buf.Write(e.Data)
	}
	pad(&buf)
	return buf.Bytes(), nil
}

// ParseTable decodes a serialized table. Zero bytes decode to an empty table.
func ParseTable(data []byte) (*Table, error) {
	t := NewTable()
	if len(data) == 0 {
		return t, nil
	}
	if len(data) < tableHeaderSize || string(data[:4]) != tableMagic {
		return nil, fmt.Errorf("invalid resource table magic")
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != tableVersion {
		return nil, fmt.Errorf("unsupported resource table version %d", v)
	}

	count := int(binary.LittleEndian.Uint16(data[6:]))
	if len(data) < tableHeaderSize+count*tableEntrySize {
		return nil, fmt.Errorf("resource table truncated")
	}

	for i := 0; i < count; i++ {
		hdr := data[tableHeaderSize+i*tableEntrySize:]
		offset := uint64(binary.LittleEndian.Uint32(hdr[8:]))
		size := uint64(binary.LittleEndian.Uint32(hdr[12:]))
		if offset+size > uint64(len(data)) {
			return nil, fmt.Errorf("resource table entry %d out of bounds", i)
		}
		entry := NativeResource{
			Type: binary.LittleEndian.Uint16(hdr[0:]),
			ID:   binary.LittleEndian.Uint16(hdr[2:]),
			Lang: binary.LittleEndian.Uint16(hdr[4:]),
			Data: append([]byte(nil), data[offset:offset+size]...),
		}
		t.entries = append(t.entries, entry)
	}
	return t, nil
}

func align(n int) int {
	return (n + tableAlign - 1) &^ (tableAlign - 1)
}

func pad(buf *bytes.Buffer) {
	for buf.Len()%tableAlign != 0 {
		buf.WriteByte(0)
	}
}

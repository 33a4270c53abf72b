// Package criacbtest builds UTF tables, AFS2 archives and ACB cue sheets
// in memory for tests.
package criacbtest

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Storage modes as written in bits 5-7 of a column tag.
const (
	StorageZero     uint8 = 0
	StorageConstant uint8 = 1
	StorageRow      uint8 = 2
)

// Value kinds as written in bits 0-4 of a column tag.
const (
	KindInt8    uint8 = 0x10
	KindUint8   uint8 = 0x11
	KindInt16   uint8 = 0x12
	KindUint16  uint8 = 0x13
	KindInt32   uint8 = 0x14
	KindUint32  uint8 = 0x15
	KindInt64   uint8 = 0x16
	KindUint64  uint8 = 0x17
	KindFloat32 uint8 = 0x18
	KindFloat64 uint8 = 0x19
	KindString  uint8 = 0x1A
	KindData    uint8 = 0x1B
)

// Column describes one column. Value is used for StorageConstant, Values
// (one per row) for StorageRow. Integers may be given as any Go integer,
// floats as float32/float64, strings as string and data as []byte.
// Columns of an unknown kind store nothing.
type Column struct {
	Name    string
	Storage uint8
	Kind    uint8
	Value   any
	Values  []any
}

// Table is a UTF table description.
type Table struct {
	Name    string
	Rows    int
	Columns []Column
}

type heap struct {
	buf   []byte
	index map[string]int
}

func (h *heap) str(s string) uint32 {
	if off, ok := h.index[s]; ok {
		return uint32(off)
	}
	off := len(h.buf)
	h.index[s] = off
	h.buf = append(h.buf, s...)
	h.buf = append(h.buf, 0)
	return uint32(off)
}

type encoder struct {
	strings heap
	data    []byte
}

func (e *encoder) value(kind uint8, v any) []byte {
	var out []byte
	switch kind {
	case KindString:
		s, _ := v.(string)
		out = binary.BigEndian.AppendUint32(out, e.strings.str(s))
	case KindData:
		d, _ := v.([]byte)
		out = binary.BigEndian.AppendUint32(out, uint32(len(e.data)))
		out = binary.BigEndian.AppendUint32(out, uint32(len(d)))
		e.data = append(e.data, d...)
	case KindFloat32:
		out = binary.BigEndian.AppendUint32(out, math.Float32bits(float32(toFloat(v))))
	case KindFloat64:
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(toFloat(v)))
	case KindInt8, KindUint8:
		out = append(out, byte(toUint(v)))
	case KindInt16, KindUint16:
		out = binary.BigEndian.AppendUint16(out, uint16(toUint(v)))
	case KindInt32, KindUint32:
		out = binary.BigEndian.AppendUint32(out, uint32(toUint(v)))
	case KindInt64, KindUint64:
		out = binary.BigEndian.AppendUint64(out, toUint(v))
	}
	return out
}

func toUint(v any) uint64 {
	switch n := v.(type) {
	case int:
		return uint64(n)
	case int8:
		return uint64(n)
	case int16:
		return uint64(n)
	case int32:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	case nil:
		return 0
	}
	panic(fmt.Sprintf("criacbtest: %T is not an integer", v))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	case nil:
		return 0
	}
	panic(fmt.Sprintf("criacbtest: %T is not a float", v))
}

// Bytes encodes the table. Row values are laid out row-major from the
// value section, inline values right after their descriptor.
func (t Table) Bytes() []byte {
	enc := &encoder{strings: heap{index: make(map[string]int)}}
	enc.strings.str("<NULL>")
	nameOffset := enc.strings.str(t.Name)

	var schema []byte
	for _, c := range t.Columns {
		schema = append(schema, c.Storage<<5|c.Kind&0x1F)
		schema = binary.BigEndian.AppendUint32(schema, enc.strings.str(c.Name))
		if c.Storage == StorageConstant {
			schema = append(schema, enc.value(c.Kind, c.Value)...)
		}
	}

	var rows []byte
	rowWidth := 0
	for r := 0; r < t.Rows; r++ {
		start := len(rows)
		for _, c := range t.Columns {
			if c.Storage == StorageZero || c.Storage == StorageConstant {
				continue
			}
			var v any
			if r < len(c.Values) {
				v = c.Values[r]
			}
			rows = append(rows, enc.value(c.Kind, v)...)
		}
		rowWidth = len(rows) - start
	}

	const headerSize = 24
	valueOffset := headerSize + len(schema)
	stringOffset := valueOffset + len(rows)
	dataOffset := stringOffset + len(enc.strings.buf)

	body := make([]byte, 0, dataOffset+len(enc.data))
	body = binary.BigEndian.AppendUint16(body, 1)
	body = binary.BigEndian.AppendUint16(body, uint16(valueOffset))
	body = binary.BigEndian.AppendUint32(body, uint32(stringOffset))
	body = binary.BigEndian.AppendUint32(body, uint32(dataOffset))
	body = binary.BigEndian.AppendUint32(body, nameOffset)
	body = binary.BigEndian.AppendUint16(body, uint16(len(t.Columns)))
	body = binary.BigEndian.AppendUint16(body, uint16(rowWidth))
	body = binary.BigEndian.AppendUint32(body, uint32(t.Rows))
	body = append(body, schema...)
	body = append(body, rows...)
	body = append(body, enc.strings.buf...)
	body = append(body, enc.data...)

	out := []byte("@UTF")
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

// Archive is an AFS2 archive description. Zero fields take defaults:
// version 2, 4-byte offsets, 2-byte ids, 32-byte alignment, ids 0..n-1.
// IDPadding fills the id slot bytes past the 16-bit id.
type Archive struct {
	Version    uint8
	OffsetSize uint8
	IDStride   uint16
	Alignment  uint16
	Subkey     uint16
	IDs        []int
	IDPadding  byte
	Files      [][]byte
}

// Bytes encodes the archive. Each file starts on an aligned offset; the
// offset table stores unaligned ends.
func (a Archive) Bytes() []byte {
	if a.Version == 0 {
		a.Version = 2
	}
	if a.OffsetSize == 0 {
		a.OffsetSize = 4
	}
	if a.IDStride == 0 {
		a.IDStride = 2
	}
	if a.Alignment == 0 {
		a.Alignment = 32
	}

	out := []byte("AFS2")
	out = append(out, a.Version, a.OffsetSize)
	out = binary.LittleEndian.AppendUint16(out, a.IDStride)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(a.Files)))
	out = binary.LittleEndian.AppendUint16(out, a.Alignment)
	out = binary.LittleEndian.AppendUint16(out, a.Subkey)

	for i := range a.Files {
		id := i
		if i < len(a.IDs) {
			id = a.IDs[i]
		}
		slot := make([]byte, a.IDStride)
		for j := range slot {
			slot[j] = a.IDPadding
		}
		if a.IDStride >= 2 {
			binary.LittleEndian.PutUint16(slot, uint16(id))
		} else {
			slot[0] = byte(id)
		}
		out = append(out, slot...)
	}

	tableEnd := len(out) + (len(a.Files)+1)*int(a.OffsetSize)
	offsets := []int{tableEnd}
	var payload []byte
	cursor := tableEnd
	for _, f := range a.Files {
		start := alignUp(cursor, int(a.Alignment))
		payload = append(payload, make([]byte, start-cursor)...)
		payload = append(payload, f...)
		cursor = start + len(f)
		offsets = append(offsets, cursor)
	}
	for _, off := range offsets {
		if a.OffsetSize == 2 {
			out = binary.LittleEndian.AppendUint16(out, uint16(off))
		} else {
			out = binary.LittleEndian.AppendUint32(out, uint32(off))
		}
	}
	return append(out, payload...)
}

func alignUp(offset, alignment int) int {
	if alignment <= 1 {
		return offset
	}
	if mod := offset % alignment; mod != 0 {
		offset += alignment - mod
	}
	return offset
}

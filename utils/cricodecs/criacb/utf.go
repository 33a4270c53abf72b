package criacb

import (
	"encoding/binary"
	"fmt"
	"iter"
	"slices"
	"unicode/utf8"

	harukiLogger "haruki-cri-extractor/utils/logger"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

var logger = harukiLogger.NewLogger("CriACB", "INFO", nil)

// UTFHeader represents the UTF table header. Offsets are relative to the
// byte right after the size field.
type UTFHeader struct {
	TableSize         uint32
	Reserved          uint16
	ValueOffset       uint16
	StringTableOffset uint32
	DataOffset        uint32
	TableNameOffset   uint32
	ColumnCount       uint16
	RowWidth          uint16
	RowCount          uint32
}

// UTFColumn is one column descriptor.
type UTFColumn struct {
	Name    string
	Kind    UTFKind
	Storage uint8
}

// Diagnostic is a non-fatal problem found while parsing. Row is -1 when
// it applies to every row.
type Diagnostic struct {
	Row     int
	Column  string
	Kind    UTFKind
	Message string
}

// UTFTable represents a parsed UTF table.
type UTFTable struct {
	Header      UTFHeader
	Name        string
	Columns     []UTFColumn
	Diagnostics []Diagnostic

	names []string
	index map[string]int
	opts  parseOptions

	// Slots whose value is the same in every row (absent, inline or
	// unknown kind) live in fixed; the rest are stored row-major in
	// cells, rowCells per row, at position cellOf[slot].
	fixed    []*UTFValue
	cellOf   []int
	cells    []UTFValue
	rowCells int
	rowCount int
}

type parseOptions struct {
	legacyCharset encoding.Encoding
	onDiagnostic  func(Diagnostic)
}

// ParseOption configures ParseUTFTable and OpenACB. Nested tables inherit
// the options of the table they were read from.
type ParseOption func(*parseOptions)

// WithLegacyCharset decodes strings that are not valid UTF-8 with enc.
func WithLegacyCharset(enc encoding.Encoding) ParseOption {
	return func(o *parseOptions) {
		o.legacyCharset = enc
	}
}

// WithShiftJIS is WithLegacyCharset for Shift-JIS, used by older tools.
func WithShiftJIS() ParseOption {
	return WithLegacyCharset(japanese.ShiftJIS)
}

// WithDiagnosticHandler receives every Diagnostic as it is found.
func WithDiagnosticHandler(fn func(Diagnostic)) ParseOption {
	return func(o *parseOptions) {
		o.onDiagnostic = fn
	}
}

type columnLayout struct {
	UTFColumn
	slot   int
	inline *UTFValue
}

// ParseUTFTable parses a complete UTF table from data. Rows are decoded
// eagerly; DATA values keep referencing data.
func ParseUTFTable(data []byte, opts ...ParseOption) (*UTFTable, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}
	return parseUTFTable(data, o)
}

func parseUTFTable(data []byte, opts parseOptions) (*UTFTable, error) {
	if len(data) < len(utfMagic) {
		return nil, formatErrorf("UTF buffer too short: %d bytes", len(data))
	}
	if string(data[:len(utfMagic)]) != utfMagic {
		return nil, formatErrorf("bad UTF magic: 0x%08X", binary.BigEndian.Uint32(data))
	}
	if len(data) < utfPreludeSize+utfHeaderSize {
		return nil, formatErrorf("UTF buffer too short for header: %d bytes", len(data))
	}

	body := data[utfPreludeSize:]
	header := UTFHeader{
		TableSize:         binary.BigEndian.Uint32(data[4:]),
		Reserved:          binary.BigEndian.Uint16(body[0:]),
		ValueOffset:       binary.BigEndian.Uint16(body[2:]),
		StringTableOffset: binary.BigEndian.Uint32(body[4:]),
		DataOffset:        binary.BigEndian.Uint32(body[8:]),
		TableNameOffset:   binary.BigEndian.Uint32(body[12:]),
		ColumnCount:       binary.BigEndian.Uint16(body[16:]),
		RowWidth:          binary.BigEndian.Uint16(body[18:]),
		RowCount:          binary.BigEndian.Uint32(body[20:]),
	}
	if uint64(header.RowCount) > uint64(len(body)) {
		return nil, formatErrorf("UTF row count %d exceeds %d-byte table", header.RowCount, len(body))
	}

	table := &UTFTable{
		Header: header,
		index:  make(map[string]int),
		opts:   opts,
	}
	r := NewReader(body, binary.BigEndian)

	name, err := table.stringAt(r, header.TableNameOffset)
	if err != nil {
		return nil, fmt.Errorf("reading table name: %w", err)
	}
	table.Name = name

	layout, err := table.readSchema(r)
	if err != nil {
		return nil, err
	}
	if err := table.readRows(r, layout); err != nil {
		return nil, err
	}
	return table, nil
}

// readSchema walks the column descriptors once. Inline (storage mode 1)
// values sit right after their descriptor, so they are decoded here and
// the descriptor cursor advances past them.
func (t *UTFTable) readSchema(r *Reader) ([]columnLayout, error) {
	layout := make([]columnLayout, 0, t.Header.ColumnCount)
	pos := utfHeaderSize

	for i := 0; i < int(t.Header.ColumnCount); i++ {
		tag, err := r.Uint8At(pos)
		if err != nil {
			return nil, fmt.Errorf("reading column %d descriptor: %w", i, err)
		}
		nameOffset, err := r.Uint32At(pos + 1)
		if err != nil {
			return nil, fmt.Errorf("reading column %d name offset: %w", i, err)
		}
		pos += 5

		name, err := t.stringAt(r, nameOffset)
		if err != nil {
			return nil, fmt.Errorf("reading column %d name: %w", i, err)
		}

		col := columnLayout{
			UTFColumn: UTFColumn{
				Name:    name,
				Kind:    UTFKind(tag & columnKindMask),
				Storage: tag >> columnStorageShift,
			},
		}
		slot, seen := t.index[name]
		if !seen {
			slot = len(t.names)
			t.index[name] = slot
			t.names = append(t.names, name)
		}
		col.slot = slot

		if col.Storage != ColumnStorageNone && !col.Kind.Known() {
			t.report(Diagnostic{Row: -1, Column: name, Kind: col.Kind, Message: "unknown column type, value left absent"})
		}

		if col.Storage == ColumnStorageInline {
			val, n, err := t.readValue(r, pos, col.UTFColumn)
			if err != nil {
				return nil, fmt.Errorf("reading inline value of %q: %w", name, err)
			}
			col.inline = val
			pos += n
		}

		t.Columns = append(t.Columns, col.UTFColumn)
		layout = append(layout, col)
	}
	return layout, nil
}

// readRows decodes every row. Columns with a storage mode other than 0
// and 1 read from a single cursor that starts at the value section and
// keeps advancing across row boundaries in row-major order. Only those
// columns take per-row storage, so a row costs at least one byte of input
// for each cell it keeps.
func (t *UTFTable) readRows(r *Reader, layout []columnLayout) error {
	last := make([]int, len(t.names))
	for i, col := range layout {
		last[col.slot] = i
	}
	t.fixed = make([]*UTFValue, len(t.names))
	t.cellOf = make([]int, len(t.names))
	keep := make([]bool, len(layout))
	for i, col := range layout {
		if last[col.slot] != i {
			continue
		}
		t.cellOf[col.slot] = -1
		switch {
		case col.Storage == ColumnStorageNone, !col.Kind.Known():
			t.fixed[col.slot] = absentValue(col.Name, col.Kind)
		case col.Storage == ColumnStorageInline:
			t.fixed[col.slot] = col.inline
		default:
			t.cellOf[col.slot] = t.rowCells
			t.rowCells++
			keep[i] = true
		}
	}

	valuePos := int(t.Header.ValueOffset)
	for rowIdx := 0; rowIdx < int(t.Header.RowCount); rowIdx++ {
		for i, col := range layout {
			if !rowStored(col.UTFColumn) {
				continue
			}
			v, n, err := t.readValue(r, valuePos, col.UTFColumn)
			if err != nil {
				return fmt.Errorf("reading row %d column %q: %w", rowIdx, col.Name, err)
			}
			valuePos += n
			if keep[i] {
				t.cells = append(t.cells, *v)
			}
		}
	}
	t.rowCount = int(t.Header.RowCount)
	return nil
}

// rowStored reports whether col reads a value from the shared row cursor.
func rowStored(col UTFColumn) bool {
	return col.Storage != ColumnStorageNone && col.Storage != ColumnStorageInline && col.Kind.Known()
}

// readValue decodes one value at offset and returns how many bytes it
// occupied. Unknown kinds occupy nothing and yield an absent value.
func (t *UTFTable) readValue(r *Reader, offset int, col UTFColumn) (*UTFValue, int, error) {
	if !col.Kind.Known() {
		return absentValue(col.Name, col.Kind), 0, nil
	}
	val := &UTFValue{name: col.Name, kind: col.Kind, present: true}
	width := col.Kind.Width()

	switch col.Kind {
	case KindString:
		strOffset, err := r.Uint32At(offset)
		if err != nil {
			return nil, 0, err
		}
		val.str, err = t.stringAt(r, strOffset)
		if err != nil {
			return nil, 0, err
		}
	case KindData:
		dataOffset, err := r.Uint32At(offset)
		if err != nil {
			return nil, 0, err
		}
		size, err := r.Uint32At(offset + 4)
		if err != nil {
			return nil, 0, err
		}
		val.data, err = r.BytesAt(int(t.Header.DataOffset)+int(dataOffset), int(size))
		if err != nil {
			return nil, 0, err
		}
		val.nested = &nestedTable{opts: t.opts}
	default:
		raw, err := r.UintAt(offset, width)
		if err != nil {
			return nil, 0, err
		}
		val.bits = signExtend(raw, col.Kind)
	}
	return val, width, nil
}

func signExtend(raw uint64, kind UTFKind) uint64 {
	switch kind {
	case KindInt8:
		return uint64(int64(int8(raw)))
	case KindInt16:
		return uint64(int64(int16(raw)))
	case KindInt32:
		return uint64(int64(int32(raw)))
	}
	return raw
}

func (t *UTFTable) stringAt(r *Reader, offset uint32) (string, error) {
	raw, err := r.String0At(int(t.Header.StringTableOffset) + int(offset))
	if err != nil {
		return "", err
	}
	if t.opts.legacyCharset != nil && !utf8.Valid(raw) {
		decoded, err := t.opts.legacyCharset.NewDecoder().Bytes(raw)
		if err == nil {
			return string(decoded), nil
		}
	}
	return string(raw), nil
}

func (t *UTFTable) report(d Diagnostic) {
	t.Diagnostics = append(t.Diagnostics, d)
	logger.Warnf("UTF table %q column %q: %s (kind 0x%02X)", t.Name, d.Column, d.Message, uint8(d.Kind))
	if t.opts.onDiagnostic != nil {
		t.opts.onDiagnostic(d)
	}
}

func (t *UTFTable) RowCount() int {
	return t.rowCount
}

func (t *UTFTable) ColumnCount() int {
	return len(t.Columns)
}

// ColumnNames returns the distinct column names in declaration order.
func (t *UTFTable) ColumnNames() []string {
	return slices.Clone(t.names)
}

// Row returns row i, or an *IndexError.
func (t *UTFTable) Row(i int) (*UTFRow, error) {
	if i < 0 || i >= t.rowCount {
		return nil, &IndexError{What: "UTF row", Index: i, Len: t.rowCount}
	}
	return &UTFRow{table: t, index: i}, nil
}

// All iterates the rows in file order.
func (t *UTFTable) All() iter.Seq2[int, *UTFRow] {
	return func(yield func(int, *UTFRow) bool) {
		for i := 0; i < t.rowCount; i++ {
			if !yield(i, &UTFRow{table: t, index: i}) {
				return
			}
		}
	}
}

// UTFRow is one row of a UTF table. Every row of a table has the same
// columns in the same order.
type UTFRow struct {
	table *UTFTable
	index int
}

func (r *UTFRow) value(slot int) *UTFValue {
	t := r.table
	if cell := t.cellOf[slot]; cell >= 0 {
		return &t.cells[r.index*t.rowCells+cell]
	}
	return t.fixed[slot]
}

func (r *UTFRow) Len() int {
	return len(r.table.names)
}

func (r *UTFRow) Columns() []string {
	return r.table.ColumnNames()
}

// Get returns the value of the named column.
func (r *UTFRow) Get(name string) (*UTFValue, bool) {
	slot, ok := r.table.index[name]
	if !ok {
		return nil, false
	}
	return r.value(slot), true
}

// Field is Get for chained access: a column the row does not have yields
// an absent value whose accessors fail with a *TypeMismatchError.
func (r *UTFRow) Field(name string) *UTFValue {
	if v, ok := r.Get(name); ok {
		return v
	}
	return absentValue(name, 0)
}

// All iterates (column name, value) pairs in column order.
func (r *UTFRow) All() iter.Seq2[string, *UTFValue] {
	return func(yield func(string, *UTFValue) bool) {
		for slot, name := range r.table.names {
			if !yield(name, r.value(slot)) {
				return
			}
		}
	}
}

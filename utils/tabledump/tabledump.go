// Package tabledump renders UTF tables for inspection. Rows keep their
// column order; DATA cells holding a nested table are expanded, other
// DATA cells are summarised by size and BLAKE3 digest.
package tabledump

import (
	"bytes"
	"encoding/hex"

	"haruki-cri-extractor/utils/cricodecs/criacb"

	"github.com/bytedance/sonic"
	"github.com/iancoleman/orderedmap"
	"github.com/shamaton/msgpack/v2"
	"github.com/zeebo/blake3"
)

const utfMagic = "@UTF"

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func nestedTable(v *criacb.UTFValue) (*criacb.UTFTable, bool) {
	data, err := v.AsData()
	if err != nil || !bytes.HasPrefix(data, []byte(utfMagic)) {
		return nil, false
	}
	table, err := v.AsTable()
	if err != nil {
		return nil, false
	}
	return table, true
}

// ToOrderedMap returns {"name", "rows"} where every row is an ordered
// map of column name to value.
func ToOrderedMap(table *criacb.UTFTable) *orderedmap.OrderedMap {
	out := orderedmap.New()
	out.SetEscapeHTML(false)
	out.Set("name", table.Name)

	rows := make([]*orderedmap.OrderedMap, 0, table.RowCount())
	for _, row := range table.All() {
		om := orderedmap.New()
		om.SetEscapeHTML(false)
		for name, v := range row.All() {
			om.Set(name, jsonValue(v))
		}
		rows = append(rows, om)
	}
	out.Set("rows", rows)
	return out
}

func jsonValue(v *criacb.UTFValue) any {
	if v.IsAbsent() {
		return nil
	}
	if v.Kind() != criacb.KindData {
		return v.Interface()
	}
	if nested, ok := nestedTable(v); ok {
		return ToOrderedMap(nested)
	}
	data, _ := v.AsData()
	blob := orderedmap.New()
	blob.Set("size", len(data))
	blob.Set("blake3", Digest(data))
	return blob
}

// MarshalJSON renders table as indented JSON.
func MarshalJSON(table *criacb.UTFTable) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(ToOrderedMap(table), "", "  ")
}

// Table is the column-major msgpack form. Map keys in msgpack are not
// ordered, so columns are listed once and each row is an array.
type Table struct {
	Name    string   `msgpack:"name"`
	Columns []string `msgpack:"columns"`
	Rows    [][]any  `msgpack:"rows"`
}

// Blob summarises a DATA cell that is not a table.
type Blob struct {
	Size   int    `msgpack:"size"`
	Blake3 string `msgpack:"blake3"`
}

func ToTable(table *criacb.UTFTable) Table {
	out := Table{Name: table.Name, Columns: table.ColumnNames()}
	for _, row := range table.All() {
		values := make([]any, 0, row.Len())
		for _, v := range row.All() {
			values = append(values, msgpackValue(v))
		}
		out.Rows = append(out.Rows, values)
	}
	return out
}

func msgpackValue(v *criacb.UTFValue) any {
	if v.IsAbsent() {
		return nil
	}
	if v.Kind() != criacb.KindData {
		return v.Interface()
	}
	if nested, ok := nestedTable(v); ok {
		return ToTable(nested)
	}
	data, _ := v.AsData()
	return Blob{Size: len(data), Blake3: Digest(data)}
}

func MarshalMsgpack(table *criacb.UTFTable) ([]byte, error) {
	return msgpack.Marshal(ToTable(table))
}

package tabledump

import (
	"bytes"
	"strings"
	"testing"

	"haruki-cri-extractor/utils/cricodecs/criacb"
	"haruki-cri-extractor/utils/cricodecs/criacb/criacbtest"

	"github.com/bytedance/sonic"
	"github.com/shamaton/msgpack/v2"
)

func sampleTable(t *testing.T) *criacb.UTFTable {
	t.Helper()
	inner := criacbtest.Table{
		Name: "Inner",
		Rows: 1,
		Columns: []criacbtest.Column{
			{Name: "Leaf", Storage: criacbtest.StorageRow, Kind: criacbtest.KindString, Values: []any{"deep"}},
		},
	}.Bytes()
	table, err := criacb.ParseUTFTable(criacbtest.Table{
		Name: "Outer",
		Rows: 1,
		Columns: []criacbtest.Column{
			{Name: "Zeta", Storage: criacbtest.StorageRow, Kind: criacbtest.KindUint16, Values: []any{7}},
			{Name: "Alpha", Storage: criacbtest.StorageRow, Kind: criacbtest.KindString, Values: []any{"x"}},
			{Name: "Nested", Storage: criacbtest.StorageRow, Kind: criacbtest.KindData, Values: []any{inner}},
			{Name: "Blob", Storage: criacbtest.StorageRow, Kind: criacbtest.KindData, Values: []any{[]byte("abc")}},
			{Name: "Empty", Storage: criacbtest.StorageZero, Kind: criacbtest.KindUint8},
		},
	}.Bytes())
	if err != nil {
		t.Fatalf("ParseUTFTable: %v", err)
	}
	return table
}

func TestMarshalJSON(t *testing.T) {
	out, err := MarshalJSON(sampleTable(t))
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	s := string(out)

	// Column order is preserved.
	order := []string{`"Zeta"`, `"Alpha"`, `"Nested"`, `"Blob"`, `"Empty"`}
	last := -1
	for _, key := range order {
		i := strings.Index(s, key)
		if i < 0 || i < last {
			t.Fatalf("expected %s after previous columns in %s", key, s)
		}
		last = i
	}

	var decoded struct {
		Name string           `json:"name"`
		Rows []map[string]any `json:"rows"`
	}
	if err := sonic.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != "Outer" || len(decoded.Rows) != 1 {
		t.Fatalf("unexpected dump %+v", decoded)
	}
	row := decoded.Rows[0]
	if row["Empty"] != nil {
		t.Fatalf("expected absent value to be null, got %v", row["Empty"])
	}
	nested, ok := row["Nested"].(map[string]any)
	if !ok || nested["name"] != "Inner" {
		t.Fatalf("expected nested table to be expanded, got %v", row["Nested"])
	}
	blob, ok := row["Blob"].(map[string]any)
	if !ok || blob["blake3"] != Digest([]byte("abc")) {
		t.Fatalf("expected blob summary, got %v", row["Blob"])
	}
}

func TestMarshalMsgpack(t *testing.T) {
	out, err := MarshalMsgpack(sampleTable(t))
	if err != nil {
		t.Fatalf("MarshalMsgpack: %v", err)
	}
	var decoded struct {
		Name    string   `msgpack:"name"`
		Columns []string `msgpack:"columns"`
		Rows    [][]any  `msgpack:"rows"`
	}
	if err := msgpack.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != "Outer" || strings.Join(decoded.Columns, ",") != "Zeta,Alpha,Nested,Blob,Empty" {
		t.Fatalf("unexpected header %+v", decoded)
	}
	if len(decoded.Rows) != 1 || len(decoded.Rows[0]) != 5 {
		t.Fatalf("unexpected rows %v", decoded.Rows)
	}
	if decoded.Rows[0][1] != "x" || decoded.Rows[0][4] != nil {
		t.Fatalf("unexpected row values %v", decoded.Rows[0])
	}
}

func TestDigest(t *testing.T) {
	// BLAKE3 of the empty input.
	const empty = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got := Digest(nil); got != empty {
		t.Fatalf("Digest(nil) = %s", got)
	}
	if bytes.Equal([]byte(Digest([]byte("a"))), []byte(empty)) {
		t.Fatalf("expected different digests")
	}
}

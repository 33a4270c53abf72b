package criacb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"haruki-cri-extractor/utils/cricodecs/criacb/criacbtest"
)

func TestParseAFSArchive(t *testing.T) {
	files := [][]byte{
		[]byte("first"),
		bytes.Repeat([]byte{0xAB}, 40),
		[]byte("third asset"),
	}
	data := criacbtest.Archive{Subkey: 0x1234, IDs: []int{10, 20, 30}, Files: files}.Bytes()

	archive, err := ParseAFSArchive(data)
	if err != nil {
		t.Fatalf("ParseAFSArchive: %v", err)
	}
	if archive.Version != 2 || archive.OffsetSize != 4 || archive.IDStride != 2 || archive.Alignment != 32 {
		t.Fatalf("unexpected header: %+v", archive)
	}
	if archive.Subkey != 0x1234 {
		t.Fatalf("expected subkey 0x1234, got 0x%X", archive.Subkey)
	}
	if archive.Len() != 3 || int(archive.FileCount) != 3 {
		t.Fatalf("expected 3 assets, got %d", archive.Len())
	}

	for i, want := range files {
		asset, err := archive.Asset(i)
		if err != nil {
			t.Fatalf("Asset(%d): %v", i, err)
		}
		if asset.Index != i || asset.ID != (i+1)*10 {
			t.Fatalf("asset %d: unexpected index/id %d/%d", i, asset.Index, asset.ID)
		}
		if asset.Start%32 != 0 {
			t.Fatalf("asset %d: start 0x%X not aligned to 32", i, asset.Start)
		}
		if asset.End-asset.Start != len(want) {
			t.Fatalf("asset %d: expected size %d, got %d", i, len(want), asset.End-asset.Start)
		}
		if !bytes.Equal(asset.Data, want) {
			t.Fatalf("asset %d: payload mismatch", i)
		}
	}
}

func TestParseAFSArchive_AssetsAliasBuffer(t *testing.T) {
	data := criacbtest.Archive{Files: [][]byte{[]byte("abcd")}}.Bytes()
	archive, err := ParseAFSArchive(data)
	if err != nil {
		t.Fatalf("ParseAFSArchive: %v", err)
	}
	asset, _ := archive.Asset(0)
	data[asset.Start] = 'z'
	if asset.Data[0] != 'z' {
		t.Fatalf("expected asset data to be a view of the archive buffer")
	}
	if cap(asset.Data) != len(asset.Data) {
		t.Fatalf("expected capacity capped at the asset end")
	}
}

func TestParseAFSArchive_TwoByteOffsetsAndWideIDs(t *testing.T) {
	files := [][]byte{[]byte("one"), []byte("two!")}
	data := criacbtest.Archive{OffsetSize: 2, IDStride: 4, Alignment: 16, IDs: []int{300, 5}, IDPadding: 0xFF, Files: files}.Bytes()

	archive, err := ParseAFSArchive(data)
	if err != nil {
		t.Fatalf("ParseAFSArchive: %v", err)
	}
	if archive.IDs[0] != 300 || archive.IDs[1] != 5 {
		t.Fatalf("expected 16-bit ids with padding ignored, got %v", archive.IDs)
	}
	if asset, ok := archive.AssetByID(300); !ok || asset.Index != 0 {
		t.Fatalf("expected id 300 at index 0, got %+v (%v)", asset, ok)
	}
	for i, want := range files {
		asset, _ := archive.Asset(i)
		if asset.Start%16 != 0 || !bytes.Equal(asset.Data, want) {
			t.Fatalf("asset %d: start 0x%X data %q", i, asset.Start, asset.Data)
		}
	}
}

func TestParseAFSArchive_ZeroAlignment(t *testing.T) {
	data := criacbtest.Archive{Alignment: 1, Files: [][]byte{[]byte("ab"), []byte("cde")}}.Bytes()
	// Alignment 0 must behave like 1.
	binary.LittleEndian.PutUint16(data[12:], 0)

	archive, err := ParseAFSArchive(data)
	if err != nil {
		t.Fatalf("ParseAFSArchive: %v", err)
	}
	first, _ := archive.Asset(0)
	second, _ := archive.Asset(1)
	if second.Start != first.End {
		t.Fatalf("expected unaligned assets to be contiguous, got %d and %d", first.End, second.Start)
	}
	if string(second.Data) != "cde" {
		t.Fatalf("unexpected second asset %q", second.Data)
	}
}

func TestParseAFSArchive_Errors(t *testing.T) {
	valid := criacbtest.Archive{Files: [][]byte{[]byte("x")}}.Bytes()

	tests := []struct {
		name string
		data func() []byte
	}{
		{"bad magic", func() []byte {
			d := bytes.Clone(valid)
			copy(d, "AFS1")
			return d
		}},
		{"short header", func() []byte { return valid[:10] }},
		{"offset size 3", func() []byte {
			d := bytes.Clone(valid)
			d[5] = 3
			return d
		}},
		{"id stride 0", func() []byte {
			d := bytes.Clone(valid)
			binary.LittleEndian.PutUint16(d[6:], 0)
			return d
		}},
		{"file table past buffer", func() []byte {
			d := bytes.Clone(valid)
			binary.LittleEndian.PutUint32(d[8:], 1<<20)
			return d
		}},
		{"asset past buffer", func() []byte { return valid[:len(valid)-1] }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAFSArchive(tc.data()); !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestAFSArchive_Lookup(t *testing.T) {
	archive, err := ParseAFSArchive(criacbtest.Archive{IDs: []int{7, 3}, Files: [][]byte{[]byte("a"), []byte("b")}}.Bytes())
	if err != nil {
		t.Fatalf("ParseAFSArchive: %v", err)
	}

	if _, err := archive.Asset(2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected IndexError, got %v", err)
	}
	asset, ok := archive.AssetByID(3)
	if !ok || asset.Index != 1 || string(asset.Data) != "b" {
		t.Fatalf("AssetByID(3) = %+v, %v", asset, ok)
	}
	if _, ok := archive.AssetByID(1); ok {
		t.Fatalf("expected no asset with id 1")
	}
}

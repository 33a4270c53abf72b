package criacb

import (
	"encoding/binary"
	"fmt"
)

// AFSAsset is one entry of an AFS2 archive. Data is a view of
// [Start, End) in the archive buffer and is not decoded.
type AFSAsset struct {
	Index int
	ID    int
	Start int
	End   int
	Data  []byte
}

// AFSArchive represents an AFS2 (AWB) archive.
type AFSArchive struct {
	Version    uint8
	OffsetSize uint8
	IDStride   uint16
	FileCount  uint32
	Alignment  uint16
	Subkey     uint16
	IDs        []int
	Assets     []AFSAsset
}

// ParseAFSArchive parses an AFS2 archive held in data. Asset payloads
// alias data.
func ParseAFSArchive(data []byte) (*AFSArchive, error) {
	if len(data) < len(afsMagic) {
		return nil, formatErrorf("AFS2 buffer too short: %d bytes", len(data))
	}
	if string(data[:len(afsMagic)]) != afsMagic {
		return nil, formatErrorf("bad AFS2 magic: 0x%08X", binary.BigEndian.Uint32(data))
	}
	if len(data) < afsHeaderSize {
		return nil, formatErrorf("AFS2 buffer too short for header: %d bytes", len(data))
	}

	archive := &AFSArchive{
		Version:    data[4],
		OffsetSize: data[5],
		IDStride:   binary.LittleEndian.Uint16(data[6:]),
		FileCount:  binary.LittleEndian.Uint32(data[8:]),
		Alignment:  binary.LittleEndian.Uint16(data[12:]),
		Subkey:     binary.LittleEndian.Uint16(data[14:]),
	}
	if archive.OffsetSize != 2 && archive.OffsetSize != 4 {
		return nil, formatErrorf("invalid AFS2 offset size %d", archive.OffsetSize)
	}
	if archive.IDStride == 0 {
		return nil, formatErrorf("invalid AFS2 id stride 0")
	}

	count := uint64(archive.FileCount)
	tableEnd := uint64(afsHeaderSize) + count*uint64(archive.IDStride) + (count+1)*uint64(archive.OffsetSize)
	if tableEnd > uint64(len(data)) {
		return nil, formatErrorf("AFS2 file table for %d files exceeds %d-byte buffer", count, len(data))
	}

	r := NewReader(data, binary.LittleEndian)
	pos := afsHeaderSize

	idWidth := idFieldWidth(archive.IDStride)
	archive.IDs = make([]int, count)
	for i := range archive.IDs {
		id, err := r.UintAt(pos, idWidth)
		if err != nil {
			return nil, fmt.Errorf("reading AFS2 id %d: %w", i, err)
		}
		archive.IDs[i] = int(id)
		pos += int(archive.IDStride)
	}

	offsetWidth := int(archive.OffsetSize)
	first, err := r.UintAt(pos, offsetWidth)
	if err != nil {
		return nil, fmt.Errorf("reading AFS2 first offset: %w", err)
	}
	pos += offsetWidth

	start := alignUp(int(first), int(archive.Alignment))
	archive.Assets = make([]AFSAsset, count)
	for i := range archive.Assets {
		end, err := r.UintAt(pos, offsetWidth)
		if err != nil {
			return nil, fmt.Errorf("reading AFS2 offset %d: %w", i+1, err)
		}
		pos += offsetWidth

		asset := AFSAsset{Index: i, ID: archive.IDs[i], Start: start, End: int(end)}
		if asset.End > len(data) {
			return nil, formatErrorf("AFS2 asset %d ends at 0x%X past %d-byte buffer", i, asset.End, len(data))
		}
		if asset.End > asset.Start {
			asset.Data = data[asset.Start:asset.End:asset.End]
		} else {
			asset.Data = []byte{}
		}
		archive.Assets[i] = asset

		start = alignUp(int(end), int(archive.Alignment))
	}

	return archive, nil
}

// idFieldWidth is how many bytes of each id slot hold the id. Ids are
// 16-bit; the rest of a wider slot is padding.
func idFieldWidth(stride uint16) int {
	if stride >= 2 {
		return 2
	}
	return 1
}

// alignUp rounds offset up to a multiple of alignment. Alignment 0 is
// treated as 1.
func alignUp(offset, alignment int) int {
	if alignment <= 1 {
		return offset
	}
	if mod := offset % alignment; mod != 0 {
		offset += alignment - mod
	}
	return offset
}

func (a *AFSArchive) Len() int {
	return len(a.Assets)
}

// Asset returns the asset at position i in file order.
func (a *AFSArchive) Asset(i int) (AFSAsset, error) {
	if i < 0 || i >= len(a.Assets) {
		return AFSAsset{}, &IndexError{What: "AFS2 asset", Index: i, Len: len(a.Assets)}
	}
	return a.Assets[i], nil
}

// AssetByID returns the first asset whose logical id is id.
func (a *AFSArchive) AssetByID(id int) (AFSAsset, bool) {
	for _, asset := range a.Assets {
		if asset.ID == id {
			return asset, true
		}
	}
	return AFSAsset{}, false
}

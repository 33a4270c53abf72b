package criacb

import "fmt"

const (
	utfMagic = "@UTF"
	afsMagic = "AFS2"

	// magic + size field
	utfPreludeSize = 8
	// sub-header that follows the size field
	utfHeaderSize = 24
	afsHeaderSize = 16
)

// Column storage modes, stored in bits 5-7 of a column descriptor tag.
const (
	columnStorageShift = 5
	columnKindMask     = 0x1F

	ColumnStorageNone   = 0
	ColumnStorageInline = 1
)

// UTFKind is the value kind stored in bits 0-4 of a column descriptor tag.
type UTFKind uint8

const (
	KindInt8    UTFKind = 0x10
	KindUint8   UTFKind = 0x11
	KindInt16   UTFKind = 0x12
	KindUint16  UTFKind = 0x13
	KindInt32   UTFKind = 0x14
	KindUint32  UTFKind = 0x15
	KindInt64   UTFKind = 0x16
	KindUint64  UTFKind = 0x17
	KindFloat32 UTFKind = 0x18
	KindFloat64 UTFKind = 0x19
	KindString  UTFKind = 0x1A
	KindData    UTFKind = 0x1B
)

var kindNames = map[UTFKind]string{
	KindInt8:    "I8",
	KindUint8:   "U8",
	KindInt16:   "I16",
	KindUint16:  "U16",
	KindInt32:   "I32",
	KindUint32:  "U32",
	KindInt64:   "I64",
	KindUint64:  "U64",
	KindFloat32: "FLOAT",
	KindFloat64: "DOUBLE",
	KindString:  "STRING",
	KindData:    "DATA",
}

func (k UTFKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(k))
}

// Known reports whether k is one of the twelve defined kinds.
func (k UTFKind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Width is the number of bytes a value of kind k occupies at its cursor.
// Strings store a heap offset, data stores an offset and a length.
func (k UTFKind) Width() int {
	switch k {
	case KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32, KindString:
		return 4
	case KindInt64, KindUint64, KindFloat64, KindData:
		return 8
	}
	return 0
}

func (k UTFKind) isInteger() bool {
	return k >= KindInt8 && k <= KindUint64
}

func (k UTFKind) isSigned() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return true
	}
	return false
}

func (k UTFKind) isFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}

// Waveform encoding types
const (
	WaveformEncodeTypeADX         = 0
	WaveformEncodeTypeHCA         = 2
	WaveformEncodeTypeVAG         = 7
	WaveformEncodeTypeATRAC3      = 8
	WaveformEncodeTypeBCWAV       = 9
	WaveformEncodeTypeNintendoDSP = 13
)

var waveTypeExtensions = map[int]string{
	WaveformEncodeTypeADX:         ".adx",
	WaveformEncodeTypeHCA:         ".hca",
	WaveformEncodeTypeVAG:         ".vag",
	WaveformEncodeTypeATRAC3:      ".at3",
	WaveformEncodeTypeBCWAV:       ".bcwav",
	WaveformEncodeTypeNintendoDSP: ".dsp",
}

// ExtensionForEncodeType returns the conventional file extension for a
// waveform encode type, or ".<n>" for types without one.
func ExtensionForEncodeType(encodeType int) string {
	if ext, ok := waveTypeExtensions[encodeType]; ok {
		return ext
	}
	return fmt.Sprintf(".%d", encodeType)
}

// Column names used by cue sheets.
const (
	columnAwbFile         = "AwbFile"
	columnStreamAwbHash   = "StreamAwbHash"
	columnWaveformTable   = "WaveformTable"
	columnName            = "Name"
	columnStreaming       = "Streaming"
	columnMemoryAwbID     = "MemoryAwbId"
	columnStreamAwbID     = "StreamAwbId"
	columnStreamAwbPortNo = "StreamAwbPortNo"
	columnLegacyAwbID     = "Id"
	columnEncodeType      = "EncodeType"
)

// External archive file suffix appended to names from StreamAwbHash.
const awbSuffix = ".awb"

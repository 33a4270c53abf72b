package criacbtest

import "encoding/binary"

// Waveform is one WaveformTable row.
type Waveform struct {
	Streaming  bool
	MemoryID   int
	Port       int
	StreamID   int
	EncodeType int
}

// Cue is a named cue whose sequence plays one track per listed waveform
// row.
type Cue struct {
	Name      string
	Waveforms []int
}

// ACB is a cue sheet description. Memory, if set, becomes the AwbFile
// column. When Cues is set the cue, sequence, track, event and synth
// tables are generated as well.
type ACB struct {
	Name        string
	Memory      []byte
	StreamNames []string
	Waveforms   []Waveform
	Cues        []Cue
	Extra       []Column
}

const none = 0xFFFF

// WaveformTable encodes only the waveform table.
func (a ACB) WaveformTable() []byte {
	n := len(a.Waveforms)
	enc := make([]any, n)
	streaming := make([]any, n)
	memID := make([]any, n)
	port := make([]any, n)
	streamID := make([]any, n)
	for i, w := range a.Waveforms {
		enc[i] = w.EncodeType
		if w.Streaming {
			streaming[i] = 1
			memID[i] = none
			port[i] = w.Port
			streamID[i] = w.StreamID
		} else {
			streaming[i] = 0
			memID[i] = w.MemoryID
			port[i] = none
			streamID[i] = none
		}
	}
	return Table{
		Name: "Waveform",
		Rows: n,
		Columns: []Column{
			{Name: "EncodeType", Storage: StorageRow, Kind: KindUint8, Values: enc},
			{Name: "Streaming", Storage: StorageRow, Kind: KindUint8, Values: streaming},
			{Name: "MemoryAwbId", Storage: StorageRow, Kind: KindUint16, Values: memID},
			{Name: "StreamAwbPortNo", Storage: StorageRow, Kind: KindUint16, Values: port},
			{Name: "StreamAwbId", Storage: StorageRow, Kind: KindUint16, Values: streamID},
		},
	}.Bytes()
}

// StreamAwbHash encodes the external archive name table.
func (a ACB) StreamAwbHash() []byte {
	if len(a.StreamNames) == 0 {
		return nil
	}
	names := make([]any, len(a.StreamNames))
	hashes := make([]any, len(a.StreamNames))
	for i, name := range a.StreamNames {
		names[i] = name
		hashes[i] = make([]byte, 16)
	}
	return Table{
		Name: "StreamAwb",
		Rows: len(a.StreamNames),
		Columns: []Column{
			{Name: "Name", Storage: StorageRow, Kind: KindString, Values: names},
			{Name: "Hash", Storage: StorageRow, Kind: KindData, Values: hashes},
		},
	}.Bytes()
}

// Bytes encodes the single-row root table.
func (a ACB) Bytes() []byte {
	name := a.Name
	if name == "" {
		name = "Header"
	}
	cols := []Column{
		{Name: "Name", Storage: StorageRow, Kind: KindString, Values: []any{name}},
		{Name: "AwbFile", Storage: StorageRow, Kind: KindData, Values: []any{a.Memory}},
		{Name: "StreamAwbHash", Storage: StorageRow, Kind: KindData, Values: []any{a.StreamAwbHash()}},
		{Name: "WaveformTable", Storage: StorageRow, Kind: KindData, Values: []any{a.WaveformTable()}},
	}
	if a.Cues != nil {
		cols = append(cols, a.cueColumns()...)
	}
	cols = append(cols, a.Extra...)
	return Table{Name: name, Rows: 1, Columns: cols}.Bytes()
}

func (a ACB) cueColumns() []Column {
	var (
		cueRefType, cueRefIndex, cueID []any
		nameIndex, nameText            []any
		seqNumTracks, seqTrackIndex    []any
		trackEvent                     []any
		eventCommand                   []any
		synthItems                     []any
	)

	for ci, cue := range a.Cues {
		cueID = append(cueID, ci)
		cueRefType = append(cueRefType, 3)
		cueRefIndex = append(cueRefIndex, ci)
		nameIndex = append(nameIndex, ci)
		nameText = append(nameText, cue.Name)

		var trackIdx []byte
		for _, wav := range cue.Waveforms {
			synIdx := len(synthItems)
			items := binary.BigEndian.AppendUint16(nil, 1)
			items = binary.BigEndian.AppendUint16(items, uint16(wav))
			synthItems = append(synthItems, items)

			cmd := binary.BigEndian.AppendUint16(nil, 0x07d0)
			cmd = append(cmd, 4)
			cmd = binary.BigEndian.AppendUint16(cmd, 2)
			cmd = binary.BigEndian.AppendUint16(cmd, uint16(synIdx))
			cmd = append(cmd, 0, 0, 0)
			eventIdx := len(eventCommand)
			eventCommand = append(eventCommand, cmd)

			trackIdx = binary.BigEndian.AppendUint16(trackIdx, uint16(len(trackEvent)))
			trackEvent = append(trackEvent, eventIdx)
		}
		seqNumTracks = append(seqNumTracks, len(cue.Waveforms))
		seqTrackIndex = append(seqTrackIndex, trackIdx)
	}

	table := func(name string, rows int, cols ...Column) []byte {
		return Table{Name: name, Rows: rows, Columns: cols}.Bytes()
	}
	n := len(a.Cues)
	return []Column{
		{Name: "CueTable", Storage: StorageRow, Kind: KindData, Values: []any{table("Cue", n,
			Column{Name: "CueId", Storage: StorageRow, Kind: KindUint32, Values: cueID},
			Column{Name: "ReferenceType", Storage: StorageRow, Kind: KindUint8, Values: cueRefType},
			Column{Name: "ReferenceIndex", Storage: StorageRow, Kind: KindUint16, Values: cueRefIndex},
		)}},
		{Name: "CueNameTable", Storage: StorageRow, Kind: KindData, Values: []any{table("CueName", n,
			Column{Name: "CueName", Storage: StorageRow, Kind: KindString, Values: nameText},
			Column{Name: "CueIndex", Storage: StorageRow, Kind: KindUint16, Values: nameIndex},
		)}},
		{Name: "SequenceTable", Storage: StorageRow, Kind: KindData, Values: []any{table("Sequence", n,
			Column{Name: "NumTracks", Storage: StorageRow, Kind: KindUint16, Values: seqNumTracks},
			Column{Name: "TrackIndex", Storage: StorageRow, Kind: KindData, Values: seqTrackIndex},
		)}},
		{Name: "TrackTable", Storage: StorageRow, Kind: KindData, Values: []any{table("Track", len(trackEvent),
			Column{Name: "EventIndex", Storage: StorageRow, Kind: KindUint16, Values: trackEvent},
		)}},
		{Name: "TrackEventTable", Storage: StorageRow, Kind: KindData, Values: []any{table("TrackEvent", len(eventCommand),
			Column{Name: "Command", Storage: StorageRow, Kind: KindData, Values: eventCommand},
		)}},
		{Name: "SynthTable", Storage: StorageRow, Kind: KindData, Values: []any{table("Synth", len(synthItems),
			Column{Name: "ReferenceItems", Storage: StorageRow, Kind: KindData, Values: synthItems},
		)}},
	}
}

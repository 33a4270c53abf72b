package criacb

import (
	"encoding/binary"
	"fmt"
)

const (
	referenceTypeWaveform = 1
	referenceTypeSequence = 3
	referenceTypeBlock    = 8

	commandEnd       = 0x0000
	commandNoteOn    = 0x07d0
	noteOnSynthType  = 2
	synthRefWaveform = 1
	noEventIndex     = 0xFFFF
)

// Track ties a waveform entry to the cue that plays it.
type Track struct {
	CueIndex      int
	CueID         int
	Name          string
	WaveformIndex int
	EncodeType    int
	IsStream      bool
	AWBID         int
	StreamPort    int
}

// TrackList parses track information from ACB
type TrackList struct {
	Tracks []Track
	byWave map[int]int
}

type acbTables struct {
	cues *UTFTable
	nams *UTFTable
	wavs *UTFTable
	syns *UTFTable
	tras *UTFTable
	tevs *UTFTable
	seqs *UTFTable
}

// NewTrackList follows every cue through its sequence, tracks, track
// events and synths down to waveform entries.
func NewTrackList(acb *ACB) (*TrackList, error) {
	tables, err := loadACBTables(acb)
	if err != nil {
		return nil, err
	}

	tl := &TrackList{byWave: make(map[int]int)}
	names := buildNameMap(tables.nams)
	used := make(map[string]bool)

	for cueIdx, cueRow := range tables.cues.All() {
		refType := optionalInt(cueRow, -1, "ReferenceType")
		refIndex := optionalInt(cueRow, -1, "ReferenceIndex")
		cue := cueRef{
			index: cueIdx,
			id:    optionalInt(cueRow, cueIdx, "CueId"),
			name:  names[cueIdx],
		}
		if cue.name == "" {
			cue.name = fmt.Sprintf("UNKNOWN-%d", cueIdx)
		}

		switch refType {
		case referenceTypeWaveform:
			tl.add(tables, cue, refIndex, used)
		case referenceTypeSequence, referenceTypeBlock:
			for _, trackIdx := range sequenceTracks(tables, refIndex) {
				for _, wavIdx := range trackWaveforms(tables, trackIdx) {
					tl.add(tables, cue, wavIdx, used)
				}
			}
		default:
			return nil, fmt.Errorf("cue %d: ReferenceType %d not implemented", cueIdx, refType)
		}
	}
	return tl, nil
}

func loadACBTables(acb *ACB) (*acbTables, error) {
	required := func(column string) (*UTFTable, error) {
		t, err := acb.Info.Field(column).AsTable()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", column, err)
		}
		return t, nil
	}

	var tables acbTables
	var err error
	if tables.cues, err = required("CueTable"); err != nil {
		return nil, err
	}
	if tables.nams, err = required("CueNameTable"); err != nil {
		return nil, err
	}
	tables.wavs = acb.WaveformTable
	if tables.syns, err = required("SynthTable"); err != nil {
		return nil, err
	}
	if tables.tras, err = required("TrackTable"); err != nil {
		return nil, err
	}
	// TrackEventTable or CommandTable
	if tables.tevs, err = required("TrackEventTable"); err != nil {
		if tables.tevs, err = required("CommandTable"); err != nil {
			return nil, err
		}
	}
	if seqs, err := acb.Info.Field("SequenceTable").AsTable(); err == nil {
		tables.seqs = seqs
	}
	return &tables, nil
}

func buildNameMap(nams *UTFTable) map[int]string {
	nameMap := make(map[int]string)
	for _, row := range nams.All() {
		idx, err := row.Field("CueIndex").AsInt()
		if err != nil {
			continue
		}
		name, err := row.Field("CueName").AsString()
		if err != nil {
			continue
		}
		nameMap[idx] = name
	}
	return nameMap
}

type cueRef struct {
	index int
	id    int
	name  string
}

// sequenceTracks lists the track rows played by a sequence. Without a
// sequence table every track belongs to the cue.
func sequenceTracks(tables *acbTables, seqIdx int) []int {
	if tables.seqs == nil || seqIdx < 0 || seqIdx >= tables.seqs.RowCount() {
		all := make([]int, tables.tras.RowCount())
		for i := range all {
			all[i] = i
		}
		return all
	}

	seq, _ := tables.seqs.Row(seqIdx)
	numTracks := optionalInt(seq, 0, "NumTracks")
	trackIndex, _ := seq.Field("TrackIndex").AsData()

	var out []int
	for i := 0; i < numTracks && (i+1)*2 <= len(trackIndex); i++ {
		idx := int(binary.BigEndian.Uint16(trackIndex[i*2:]))
		if idx < tables.tras.RowCount() {
			out = append(out, idx)
		}
	}
	return out
}

// trackWaveforms decodes the command stream of a track's event and returns
// the waveform rows its note-on commands reach through the synth table.
func trackWaveforms(tables *acbTables, trackIdx int) []int {
	track, err := tables.tras.Row(trackIdx)
	if err != nil {
		return nil
	}
	eventIdx := optionalInt(track, noEventIndex, "EventIndex")
	event, err := tables.tevs.Row(eventIdx)
	if eventIdx == noEventIndex || err != nil {
		return nil
	}
	command, err := event.Field("Command").AsData()
	if err != nil {
		return nil
	}

	var out []int
	for k := 0; k+3 <= len(command); {
		cmd := binary.BigEndian.Uint16(command[k:])
		paramLen := int(command[k+2])
		k += 3
		if k+paramLen > len(command) || cmd == commandEnd {
			break
		}
		params := command[k : k+paramLen]
		k += paramLen

		if cmd != commandNoteOn || len(params) < 4 {
			continue
		}
		if binary.BigEndian.Uint16(params) != noteOnSynthType {
			continue
		}
		if wavIdx, ok := synthWaveform(tables, int(binary.BigEndian.Uint16(params[2:]))); ok {
			out = append(out, wavIdx)
		}
	}
	return out
}

func synthWaveform(tables *acbTables, synIdx int) (int, bool) {
	syn, err := tables.syns.Row(synIdx)
	if err != nil {
		return 0, false
	}
	items, _ := syn.Field("ReferenceItems").AsData()
	if len(items) < 4 || binary.BigEndian.Uint16(items) != synthRefWaveform {
		return 0, false
	}
	wavIdx := int(binary.BigEndian.Uint16(items[2:]))
	if wavIdx >= tables.wavs.RowCount() {
		return 0, false
	}
	return wavIdx, true
}

func (tl *TrackList) add(tables *acbTables, cue cueRef, wavIdx int, used map[string]bool) {
	if wavIdx < 0 || wavIdx >= tables.wavs.RowCount() {
		return
	}
	if _, seen := tl.byWave[wavIdx]; seen {
		return
	}
	wavRow, _ := tables.wavs.Row(wavIdx)
	isStream := optionalInt(wavRow, 0, columnStreaming) != 0

	track := Track{
		CueIndex:      cue.index,
		CueID:         cue.id,
		WaveformIndex: wavIdx,
		EncodeType:    optionalInt(wavRow, -1, columnEncodeType),
		IsStream:      isStream,
		StreamPort:    -1,
	}
	if isStream {
		track.AWBID = optionalInt(wavRow, -1, columnStreamAwbID, columnLegacyAwbID)
		track.StreamPort = optionalInt(wavRow, 0, columnStreamAwbPortNo)
	} else {
		track.AWBID = optionalInt(wavRow, -1, columnMemoryAwbID, columnLegacyAwbID)
	}

	name := cue.name
	if used[name] {
		name = fmt.Sprintf("%s-%d", name, track.AWBID)
	}
	used[name] = true
	track.Name = name

	tl.byWave[wavIdx] = len(tl.Tracks)
	tl.Tracks = append(tl.Tracks, track)
}

// ForWaveform returns the track that plays waveform entry index.
func (tl *TrackList) ForWaveform(index int) (Track, bool) {
	i, ok := tl.byWave[index]
	if !ok {
		return Track{}, false
	}
	return tl.Tracks[i], true
}

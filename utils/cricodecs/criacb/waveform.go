package criacb

import "fmt"

// WaveformEntry is one row of an ACB WaveformTable. A memory entry points
// at MemoryAWBID in the embedded archive; a streamed entry points at
// StreamAWBID in the external archive at StreamPort.
type WaveformEntry struct {
	Index       int
	Streaming   bool
	EncodeType  int
	MemoryAWBID int
	StreamPort  int
	StreamAWBID int
}

// ParseWaveformEntries reads every row of a WaveformTable. Tables written
// before external archives existed carry a single Id column and no port.
func ParseWaveformEntries(table *UTFTable) ([]WaveformEntry, error) {
	entries := make([]WaveformEntry, 0, table.RowCount())
	for i, row := range table.All() {
		streaming, err := row.Field(columnStreaming).AsInt()
		if err != nil {
			return nil, fmt.Errorf("waveform %d: %w", i, err)
		}
		entry := WaveformEntry{
			Index:      i,
			Streaming:  streaming != 0,
			EncodeType: optionalInt(row, -1, columnEncodeType),
			StreamPort: -1,
		}
		if entry.Streaming {
			entry.StreamAWBID, err = intField(row, columnStreamAwbID, columnLegacyAwbID)
			if err != nil {
				return nil, fmt.Errorf("waveform %d: %w", i, err)
			}
			entry.StreamPort = optionalInt(row, 0, columnStreamAwbPortNo)
			entry.MemoryAWBID = -1
		} else {
			entry.MemoryAWBID, err = intField(row, columnMemoryAwbID, columnLegacyAwbID)
			if err != nil {
				return nil, fmt.Errorf("waveform %d: %w", i, err)
			}
			entry.StreamAWBID = -1
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// intField returns the first of names that holds an integer. The error
// reported is the one for the first name.
func intField(row *UTFRow, names ...string) (int, error) {
	var firstErr error
	for _, name := range names {
		v, err := row.Field(name).AsInt()
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return 0, firstErr
}

func optionalInt(row *UTFRow, fallback int, names ...string) int {
	v, err := intField(row, names...)
	if err != nil {
		return fallback
	}
	return v
}

package criacb

import (
	"context"
	"errors"
	"fmt"
)

// Resolver returns the raw bytes of an external AWB file by name. Name
// includes the ".awb" suffix. Return an error wrapping ErrArchiveNotFound
// when the archive does not exist.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, name string) ([]byte, error)

func (f ResolverFunc) Resolve(ctx context.Context, name string) ([]byte, error) {
	return f(ctx, name)
}

// ACB is an opened cue sheet: its single root row, the embedded (memory)
// archive if any, and the external (stream) archives in port order. A port
// whose archive was not found holds nil.
type ACB struct {
	Table          *UTFTable
	Info           *UTFRow
	MemoryAWB      *AFSArchive
	StreamAWBNames []string
	StreamAWBs     []*AFSArchive
	Waveforms      []WaveformEntry
	WaveformTable  *UTFTable
}

// WalkFunc is called by Walk for every waveform that resolves to an asset.
// Returning an error stops the walk.
type WalkFunc func(asset AFSAsset, subkey uint16, isMemory bool, index int) error

// OpenACB opens a cue sheet that only uses its embedded archive. It fails
// with ErrMissingResolver if external archives are named.
func OpenACB(data []byte, opts ...ParseOption) (*ACB, error) {
	return OpenACBWithResolver(context.Background(), data, nil, opts...)
}

// OpenACBWithResolver opens a cue sheet and loads each external archive
// through resolver, one at a time in declaration order.
func OpenACBWithResolver(ctx context.Context, data []byte, resolver Resolver, opts ...ParseOption) (*ACB, error) {
	table, err := ParseUTFTable(data, opts...)
	if err != nil {
		return nil, err
	}
	if table.RowCount() != 1 {
		return nil, formatErrorf("ACB root table has %d rows, want exactly 1", table.RowCount())
	}
	info, _ := table.Row(0)

	acb := &ACB{Table: table, Info: info}
	if err := acb.loadMemoryAWB(); err != nil {
		return nil, err
	}

	acb.WaveformTable, err = info.Field(columnWaveformTable).AsTable()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", columnWaveformTable, err)
	}
	acb.Waveforms, err = ParseWaveformEntries(acb.WaveformTable)
	if err != nil {
		return nil, err
	}

	hasNameTable, err := acb.loadStreamAWBNames()
	if err != nil {
		return nil, err
	}
	if len(acb.StreamAWBNames) > 0 && resolver == nil {
		return nil, ErrMissingResolver
	}
	if err := acb.loadStreamAWBs(ctx, resolver); err != nil {
		return nil, err
	}
	if hasNameTable {
		if err := acb.checkStreamPorts(); err != nil {
			return nil, err
		}
	}
	return acb, nil
}

func (a *ACB) loadMemoryAWB() error {
	v, ok := a.Info.Get(columnAwbFile)
	if !ok || v.IsAbsent() || v.Kind() != KindData {
		return nil
	}
	data, _ := v.AsData()
	if len(data) == 0 {
		return nil
	}
	awb, err := ParseAFSArchive(data)
	if err != nil {
		return fmt.Errorf("parsing embedded AWB: %w", err)
	}
	a.MemoryAWB = awb
	return nil
}

func (a *ACB) loadStreamAWBNames() (bool, error) {
	v, ok := a.Info.Get(columnStreamAwbHash)
	if !ok || v.IsAbsent() || v.Kind() != KindData {
		return false, nil
	}
	if data, _ := v.AsData(); len(data) == 0 {
		return false, nil
	}
	hashTable, err := v.AsTable()
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", columnStreamAwbHash, err)
	}
	for i, row := range hashTable.All() {
		name, err := row.Field(columnName).AsString()
		if err != nil {
			return false, fmt.Errorf("reading %s row %d: %w", columnStreamAwbHash, i, err)
		}
		a.StreamAWBNames = append(a.StreamAWBNames, name)
	}
	return true, nil
}

func (a *ACB) loadStreamAWBs(ctx context.Context, resolver Resolver) error {
	for port, name := range a.StreamAWBNames {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := resolver.Resolve(ctx, name+awbSuffix)
		if errors.Is(err, ErrArchiveNotFound) {
			logger.Warnf("stream AWB %s%s not found, port %d left empty", name, awbSuffix, port)
			a.StreamAWBs = append(a.StreamAWBs, nil)
			continue
		}
		if err != nil {
			return fmt.Errorf("resolving %s%s: %w", name, awbSuffix, err)
		}
		awb, err := ParseAFSArchive(data)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", name, awbSuffix, err)
		}
		a.StreamAWBs = append(a.StreamAWBs, awb)
	}
	return nil
}

// checkStreamPorts fails if a streamed waveform's port has no archive. It
// does not check the asset index inside the archive.
func (a *ACB) checkStreamPorts() error {
	for _, w := range a.Waveforms {
		if !w.Streaming || a.streamAWB(w.StreamPort) != nil {
			continue
		}
		name := fmt.Sprintf("port#%d", w.StreamPort)
		if w.StreamPort >= 0 && w.StreamPort < len(a.StreamAWBNames) {
			name = a.StreamAWBNames[w.StreamPort]
		}
		return &MissingArchiveError{Name: name + awbSuffix, Port: w.StreamPort}
	}
	return nil
}

func (a *ACB) streamAWB(port int) *AFSArchive {
	if port < 0 || port >= len(a.StreamAWBs) {
		return nil
	}
	return a.StreamAWBs[port]
}

// Lookup returns the asset a waveform entry points at and the subkey of
// its archive. ok is false when the archive or the index is missing.
func (a *ACB) Lookup(w WaveformEntry) (asset AFSAsset, subkey uint16, ok bool) {
	awb, index := a.MemoryAWB, w.MemoryAWBID
	if w.Streaming {
		awb, index = a.streamAWB(w.StreamPort), w.StreamAWBID
	}
	if awb == nil {
		return AFSAsset{}, 0, false
	}
	asset, err := awb.Asset(index)
	if err != nil {
		return AFSAsset{}, 0, false
	}
	return asset, awb.Subkey, true
}

// Walk calls visit for each waveform entry, in table order, that resolves
// to an asset. Entries whose archive or index is missing are skipped.
func (a *ACB) Walk(visit WalkFunc) error {
	for _, w := range a.Waveforms {
		asset, subkey, ok := a.Lookup(w)
		if !ok {
			continue
		}
		if err := visit(asset, subkey, !w.Streaming, w.Index); err != nil {
			return err
		}
	}
	return nil
}

package criacb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"haruki-cri-extractor/utils/cricodecs/criacb/criacbtest"
)

type visit struct {
	data     string
	subkey   uint16
	isMemory bool
	index    int
}

func collect(t *testing.T, acb *ACB) []visit {
	t.Helper()
	var visits []visit
	err := acb.Walk(func(asset AFSAsset, subkey uint16, isMemory bool, index int) error {
		visits = append(visits, visit{string(asset.Data), subkey, isMemory, index})
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return visits
}

// mapResolver serves archives by file name and reports the rest as not
// found.
type mapResolver struct {
	files map[string][]byte
	calls []string
}

func (m *mapResolver) Resolve(_ context.Context, name string) ([]byte, error) {
	m.calls = append(m.calls, name)
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrArchiveNotFound)
	}
	return data, nil
}

func mixedACB() (criacbtest.ACB, *mapResolver) {
	memory := criacbtest.Archive{Subkey: 0x11, Files: [][]byte{[]byte("mem0"), []byte("mem1")}}.Bytes()
	first := criacbtest.Archive{Subkey: 0x22, Files: [][]byte{[]byte("s0a0"), []byte("s0a1"), []byte("s0a2")}}.Bytes()
	second := criacbtest.Archive{Subkey: 0x33, Files: [][]byte{[]byte("s1a0")}}.Bytes()

	spec := criacbtest.ACB{
		Name:        "bgm",
		Memory:      memory,
		StreamNames: []string{"bgm_a", "bgm_b"},
		Waveforms: []criacbtest.Waveform{
			{MemoryID: 0, EncodeType: 2},
			{Streaming: true, Port: 0, StreamID: 1, EncodeType: 2},
			{Streaming: true, Port: 1, StreamID: 0, EncodeType: 2},
		},
	}
	resolver := &mapResolver{files: map[string][]byte{
		"bgm_a.awb": first,
		"bgm_b.awb": second,
	}}
	return spec, resolver
}

func TestOpenACB_WalkMemoryAndStream(t *testing.T) {
	spec, resolver := mixedACB()
	acb, err := OpenACBWithResolver(context.Background(), spec.Bytes(), resolver)
	if err != nil {
		t.Fatalf("OpenACBWithResolver: %v", err)
	}

	if got := fmt.Sprint(resolver.calls); got != "[bgm_a.awb bgm_b.awb]" {
		t.Fatalf("unexpected resolver calls %s", got)
	}
	if acb.MemoryAWB == nil || acb.MemoryAWB.Len() != 2 {
		t.Fatalf("expected a two-asset memory archive")
	}
	if len(acb.StreamAWBs) != 2 {
		t.Fatalf("expected two stream archives, got %d", len(acb.StreamAWBs))
	}

	want := []visit{
		{"mem0", 0x11, true, 0},
		{"s0a1", 0x22, false, 1},
		{"s1a0", 0x33, false, 2},
	}
	got := collect(t, acb)
	if len(got) != len(want) {
		t.Fatalf("expected %d visits, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visit %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestOpenACB_MissingStreamArchive(t *testing.T) {
	spec, resolver := mixedACB()
	delete(resolver.files, "bgm_b.awb")

	_, err := OpenACBWithResolver(context.Background(), spec.Bytes(), resolver)
	var missing *MissingArchiveError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingArchiveError, got %v", err)
	}
	if missing.Name != "bgm_b.awb" || missing.Port != 1 {
		t.Fatalf("unexpected MissingArchiveError %+v", missing)
	}
}

func TestOpenACB_UnusedMissingArchiveIsTolerated(t *testing.T) {
	spec, resolver := mixedACB()
	spec.StreamNames = append(spec.StreamNames, "bgm_c")

	acb, err := OpenACBWithResolver(context.Background(), spec.Bytes(), resolver)
	if err != nil {
		t.Fatalf("OpenACBWithResolver: %v", err)
	}
	if len(acb.StreamAWBs) != 3 || acb.StreamAWBs[2] != nil {
		t.Fatalf("expected the unreferenced third port to be empty")
	}
	if n := len(collect(t, acb)); n != 3 {
		t.Fatalf("expected 3 visits, got %d", n)
	}
}

func TestOpenACB_SkipsMissingIndex(t *testing.T) {
	spec, resolver := mixedACB()
	spec.Waveforms[0].MemoryID = 5

	acb, err := OpenACBWithResolver(context.Background(), spec.Bytes(), resolver)
	if err != nil {
		t.Fatalf("OpenACBWithResolver: %v", err)
	}
	got := collect(t, acb)
	if len(got) != 2 || got[0].index != 1 || got[1].index != 2 {
		t.Fatalf("expected only the stream entries, got %+v", got)
	}
}

func TestOpenACB_MemoryOnly(t *testing.T) {
	acb, err := OpenACB(criacbtest.ACB{
		Memory: criacbtest.Archive{Files: [][]byte{[]byte("a"), []byte("b")}}.Bytes(),
		Waveforms: []criacbtest.Waveform{
			{MemoryID: 1},
			{MemoryID: 0},
		},
	}.Bytes())
	if err != nil {
		t.Fatalf("OpenACB: %v", err)
	}
	got := collect(t, acb)
	if len(got) != 2 || got[0].data != "b" || got[1].data != "a" {
		t.Fatalf("unexpected visits %+v", got)
	}
	if len(acb.StreamAWBs) != 0 || len(acb.StreamAWBNames) != 0 {
		t.Fatalf("expected no stream archives")
	}
}

func TestOpenACB_StreamWithoutNameTable(t *testing.T) {
	acb, err := OpenACB(criacbtest.ACB{
		Waveforms: []criacbtest.Waveform{{Streaming: true, StreamID: 0}},
	}.Bytes())
	if err != nil {
		t.Fatalf("OpenACB: %v", err)
	}
	if n := len(collect(t, acb)); n != 0 {
		t.Fatalf("expected no visits, got %d", n)
	}
}

func TestOpenACB_Errors(t *testing.T) {
	spec, resolver := mixedACB()

	if _, err := OpenACB(spec.Bytes()); !errors.Is(err, ErrMissingResolver) {
		t.Fatalf("expected ErrMissingResolver, got %v", err)
	}

	twoRows := criacbtest.Table{
		Name: "Header",
		Rows: 2,
		Columns: []criacbtest.Column{
			{Name: "Name", Storage: criacbtest.StorageRow, Kind: criacbtest.KindString, Values: []any{"a", "b"}},
		},
	}.Bytes()
	if _, err := OpenACB(twoRows); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for two root rows, got %v", err)
	}

	noWaveforms := criacbtest.Table{
		Name: "Header",
		Rows: 1,
		Columns: []criacbtest.Column{
			{Name: "Name", Storage: criacbtest.StorageRow, Kind: criacbtest.KindString, Values: []any{"a"}},
		},
	}.Bytes()
	var mismatch *TypeMismatchError
	if _, err := OpenACB(noWaveforms); !errors.As(err, &mismatch) {
		t.Fatalf("expected TypeMismatchError for missing WaveformTable, got %v", err)
	}

	broken := spec
	broken.Memory = []byte("AFS2 but not really")
	if _, err := OpenACBWithResolver(context.Background(), broken.Bytes(), resolver); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for a broken memory archive, got %v", err)
	}

	boom := errors.New("disk on fire")
	failing := ResolverFunc(func(context.Context, string) ([]byte, error) { return nil, boom })
	if _, err := OpenACBWithResolver(context.Background(), spec.Bytes(), failing); !errors.Is(err, boom) {
		t.Fatalf("expected resolver error to propagate, got %v", err)
	}
}

func TestOpenACB_ContextCancelled(t *testing.T) {
	spec, resolver := mixedACB()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := OpenACBWithResolver(ctx, spec.Bytes(), resolver); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(resolver.calls) != 0 {
		t.Fatalf("expected no resolver calls after cancellation, got %v", resolver.calls)
	}
}

func TestACB_WalkStopsOnError(t *testing.T) {
	spec, resolver := mixedACB()
	acb, err := OpenACBWithResolver(context.Background(), spec.Bytes(), resolver)
	if err != nil {
		t.Fatalf("OpenACBWithResolver: %v", err)
	}

	stop := errors.New("stop")
	calls := 0
	err = acb.Walk(func(AFSAsset, uint16, bool, int) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected walk to stop after one visit, got %d calls and %v", calls, err)
	}
}

func TestOpenACB_LegacyIDColumn(t *testing.T) {
	waveforms := criacbtest.Table{
		Name: "Waveform",
		Rows: 2,
		Columns: []criacbtest.Column{
			{Name: "Id", Storage: criacbtest.StorageRow, Kind: criacbtest.KindUint16, Values: []any{1, 0}},
			{Name: "EncodeType", Storage: criacbtest.StorageConstant, Kind: criacbtest.KindUint8, Value: 2},
			{Name: "Streaming", Storage: criacbtest.StorageConstant, Kind: criacbtest.KindUint8, Value: 0},
		},
	}.Bytes()
	memory := criacbtest.Archive{Files: [][]byte{[]byte("zero"), []byte("one")}}.Bytes()
	root := criacbtest.Table{
		Name: "Header",
		Rows: 1,
		Columns: []criacbtest.Column{
			{Name: "AwbFile", Storage: criacbtest.StorageRow, Kind: criacbtest.KindData, Values: []any{memory}},
			{Name: "WaveformTable", Storage: criacbtest.StorageRow, Kind: criacbtest.KindData, Values: []any{waveforms}},
		},
	}.Bytes()

	acb, err := OpenACB(root)
	if err != nil {
		t.Fatalf("OpenACB: %v", err)
	}
	got := collect(t, acb)
	if len(got) != 2 || got[0].data != "one" || got[1].data != "zero" {
		t.Fatalf("unexpected visits %+v", got)
	}
	if acb.Waveforms[0].EncodeType != 2 || acb.Waveforms[0].StreamPort != -1 {
		t.Fatalf("unexpected waveform entry %+v", acb.Waveforms[0])
	}
}

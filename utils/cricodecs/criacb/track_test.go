package criacb

import (
	"context"
	"testing"

	"haruki-cri-extractor/utils/cricodecs/criacb/criacbtest"
)

func TestNewTrackList(t *testing.T) {
	fixture := criacbtest.ACB{
		Memory: criacbtest.Archive{Files: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}.Bytes(),
		Waveforms: []criacbtest.Waveform{
			{MemoryID: 0, EncodeType: 2},
			{MemoryID: 1, EncodeType: 2},
			{MemoryID: 2, EncodeType: 0},
		},
		Cues: []criacbtest.Cue{
			{Name: "opening", Waveforms: []int{0, 1}},
			{Name: "ending", Waveforms: []int{2}},
		},
	}
	acb, err := OpenACB(fixture.Bytes())
	if err != nil {
		t.Fatalf("OpenACB: %v", err)
	}

	tracks, err := NewTrackList(acb)
	if err != nil {
		t.Fatalf("NewTrackList: %v", err)
	}
	if len(tracks.Tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d: %+v", len(tracks.Tracks), tracks.Tracks)
	}

	want := map[int]struct {
		name string
		cue  int
		enc  int
	}{
		0: {"opening", 0, 2},
		1: {"opening-1", 0, 2},
		2: {"ending", 1, 0},
	}
	for wav, w := range want {
		track, ok := tracks.ForWaveform(wav)
		if !ok {
			t.Fatalf("no track for waveform %d", wav)
		}
		if track.Name != w.name || track.CueIndex != w.cue || track.EncodeType != w.enc {
			t.Fatalf("waveform %d: expected %+v, got %+v", wav, w, track)
		}
		if track.IsStream || track.AWBID != wav || track.StreamPort != -1 {
			t.Fatalf("waveform %d: unexpected memory track %+v", wav, track)
		}
	}
	if _, ok := tracks.ForWaveform(3); ok {
		t.Fatalf("expected no track for waveform 3")
	}
}

func TestNewTrackList_StreamTrack(t *testing.T) {
	stream := criacbtest.Archive{Files: [][]byte{[]byte("x"), []byte("y")}}.Bytes()
	fixture := criacbtest.ACB{
		StreamNames: []string{"voice"},
		Waveforms:   []criacbtest.Waveform{{Streaming: true, Port: 0, StreamID: 1, EncodeType: 2}},
		Cues:        []criacbtest.Cue{{Name: "line_001", Waveforms: []int{0}}},
	}
	resolver := ResolverFunc(func(_ context.Context, name string) ([]byte, error) {
		return stream, nil
	})
	acb, err := OpenACBWithResolver(context.Background(), fixture.Bytes(), resolver)
	if err != nil {
		t.Fatalf("OpenACBWithResolver: %v", err)
	}

	tracks, err := NewTrackList(acb)
	if err != nil {
		t.Fatalf("NewTrackList: %v", err)
	}
	track, ok := tracks.ForWaveform(0)
	if !ok {
		t.Fatalf("no track for the streamed waveform")
	}
	if !track.IsStream || track.AWBID != 1 || track.StreamPort != 0 || track.Name != "line_001" {
		t.Fatalf("unexpected stream track %+v", track)
	}
}

func TestNewTrackList_RequiresCueTables(t *testing.T) {
	acb, err := OpenACB(criacbtest.ACB{Waveforms: []criacbtest.Waveform{{MemoryID: 0}}}.Bytes())
	if err != nil {
		t.Fatalf("OpenACB: %v", err)
	}
	if _, err := NewTrackList(acb); err == nil {
		t.Fatalf("expected an error without a CueTable")
	}
}

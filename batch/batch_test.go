package batch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"haruki-cri-extractor/config"
	"haruki-cri-extractor/utils/cricodecs/criacb/criacbtest"
	"haruki-cri-extractor/utils/exporter"
)

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func sourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	write(t, filepath.Join(src, "music", "bgm.acb"), criacbtest.ACB{
		StreamNames: []string{"bgm"},
		Waveforms:   []criacbtest.Waveform{{Streaming: true, EncodeType: 2}},
	}.Bytes())
	write(t, filepath.Join(src, "music", "bgm.awb"), criacbtest.Archive{Files: [][]byte{[]byte("HCA\x00bgm")}}.Bytes())
	write(t, filepath.Join(src, "se", "se.acb"), criacbtest.ACB{
		Memory:    criacbtest.Archive{Files: [][]byte{[]byte("HCA\x00se")}}.Bytes(),
		Waveforms: []criacbtest.Waveform{{MemoryID: 0, EncodeType: 2}},
	}.Bytes())
	write(t, filepath.Join(src, "loose", "pack.awb"), criacbtest.Archive{Files: [][]byte{[]byte("HCA\x00a"), []byte("HCA\x00b")}}.Bytes())
	return src
}

func TestRunner_Directory(t *testing.T) {
	src := sourceTree(t)
	out := t.TempDir()
	r := &Runner{
		Options:     exporter.Options{OutputDir: out, ManifestFormat: "json"},
		Concurrency: 2,
		IncludeAWB:  true,
	}

	result, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sources := result.Sources()
	want := []string{
		filepath.Join(src, "loose", "pack.awb"),
		filepath.Join(src, "music", "bgm.acb"),
		filepath.Join(src, "se", "se.acb"),
	}
	if strings.Join(sources, "|") != strings.Join(want, "|") {
		t.Fatalf("expected sources %v, got %v", want, sources)
	}

	for _, f := range []string{
		filepath.Join(out, "bgm", "stream_0.hca"),
		filepath.Join(out, "se", "memory_0.hca"),
		filepath.Join(out, "pack", "pack_1.hca"),
		filepath.Join(out, "bgm.manifest.json"),
	} {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("expected %s: %v", f, err)
		}
	}
}

func TestRunner_SingleFileAndErrors(t *testing.T) {
	src := sourceTree(t)
	r := &Runner{Options: exporter.Options{OutputDir: t.TempDir()}}

	result, err := r.Run(context.Background(), filepath.Join(src, "se", "se.acb"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Manifests) != 1 {
		t.Fatalf("expected one manifest, got %d", len(result.Manifests))
	}

	write(t, filepath.Join(src, "broken", "bad.acb"), []byte("@UTF broken"))
	_, err = r.Run(context.Background(), src)
	if err == nil || !strings.Contains(err.Error(), "failed to export 1 files") {
		t.Fatalf("expected one failure, got %v", err)
	}

	if _, err := r.Run(context.Background(), filepath.Join(src, "missing")); err == nil {
		t.Fatalf("expected an error for a missing path")
	}
}

func TestRunner_StreamFromConfiguredResolver(t *testing.T) {
	src := t.TempDir()
	streams := t.TempDir()
	write(t, filepath.Join(src, "voice.acb"), criacbtest.ACB{
		StreamNames: []string{"voice_pack"},
		Waveforms:   []criacbtest.Waveform{{Streaming: true, EncodeType: 2}},
	}.Bytes())
	write(t, filepath.Join(streams, "voice_pack.awb"), criacbtest.Archive{Files: [][]byte{[]byte("HCA\x00v")}}.Bytes())

	cfg := config.Default()
	cfg.Extract.OutputDir = t.TempDir()
	cfg.Resolvers = []config.ResolverConfig{{Type: "dir", Path: streams}}
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	result, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := result.Manifests[filepath.Join(src, "voice.acb")]
	if m == nil || len(m.Entries) != 1 || m.Entries[0].Name != "stream_0" {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestRunner_Upload(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	src := sourceTree(t)
	out := t.TempDir()
	remote := t.TempDir()
	r := &Runner{
		Options: exporter.Options{OutputDir: out, ManifestFormat: "json"},
		Upload:  true,
		Storages: []config.RemoteStorageConfig{{
			Type:    "program",
			Base:    remote,
			Program: "sh",
			Args:    []string{"-c", `mkdir -p "$(dirname "$1")" && cp "$0" "$1"`, "src", "dst"},
		}},
		RemoveAfterUpload: true,
	}
	if _, err := r.Run(context.Background(), filepath.Join(src, "se", "se.acb")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, rel := range []string{"se/memory_0.hca", "se.manifest.json"} {
		if _, err := os.Stat(filepath.Join(remote, rel)); err != nil {
			t.Fatalf("expected uploaded %s: %v", rel, err)
		}
		if _, err := os.Stat(filepath.Join(out, rel)); !os.IsNotExist(err) {
			t.Fatalf("expected local %s to be removed", rel)
		}
	}
}

package exporter

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"haruki-cri-extractor/utils/cricodecs/criacb"
)

// Decoder turns one asset payload into an output file body. key is the
// caller's master key, subkey the archive-wide value from the AWB header.
type Decoder interface {
	Decode(ctx context.Context, asset []byte, key uint64, subkey uint16) ([]byte, error)
	// Extension returns the output file extension for an encode type.
	Extension(encodeType int) string
}

// RawDecoder writes assets unchanged, named after their encode type.
type RawDecoder struct{}

func (RawDecoder) Decode(_ context.Context, asset []byte, _ uint64, _ uint16) ([]byte, error) {
	return asset, nil
}

func (RawDecoder) Extension(encodeType int) string {
	return extensionFor(encodeType)
}

// extensionFor is ExtensionForEncodeType with ".bin" for unknown payloads.
func extensionFor(encodeType int) string {
	if encodeType < 0 {
		return ".bin"
	}
	return criacb.ExtensionForEncodeType(encodeType)
}

// CommandDecoder runs an external decoder once per asset. In Args the
// placeholders src and dst are replaced by the input and output paths,
// key and subkey by their decimal values.
type CommandDecoder struct {
	Program   string
	Args      []string
	OutputExt string
	TempDir   string
}

func (d CommandDecoder) Extension(int) string {
	if d.OutputExt == "" {
		return ".wav"
	}
	return d.OutputExt
}

func (d CommandDecoder) Decode(ctx context.Context, asset []byte, key uint64, subkey uint16) ([]byte, error) {
	workDir, err := os.MkdirTemp(d.TempDir, "cri-decode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create decode directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	src := filepath.Join(workDir, "input"+extensionFor(SniffEncodeType(asset)))
	dst := filepath.Join(workDir, "output"+d.Extension(0))
	if err := os.WriteFile(src, asset, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write decoder input: %w", err)
	}

	args := make([]string, len(d.Args))
	for i, arg := range d.Args {
		switch arg {
		case "src":
			args[i] = src
		case "dst":
			args[i] = dst
		case "key":
			args[i] = strconv.FormatUint(key, 10)
		case "subkey":
			args[i] = strconv.FormatUint(uint64(subkey), 10)
		default:
			args[i] = arg
		}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Program, args...)
	cmd.Stdout = nil
	cmd.Stderr = &stderr
	logger.Debugf("Decoding with: %s %s", d.Program, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("decoder %s failed: %w: %s", d.Program, err, strings.TrimSpace(stderr.String()))
	}
	out, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to read decoder output: %w", err)
	}
	return out, nil
}

// SniffEncodeType guesses the encode type of a payload from its first
// bytes. HCA headers may have the top bit of each magic byte set.
func SniffEncodeType(data []byte) int {
	if len(data) >= 4 && binary.BigEndian.Uint32(data)&0x7F7F7F7F == 0x48434100 {
		return criacb.WaveformEncodeTypeHCA
	}
	if len(data) >= 2 && binary.BigEndian.Uint16(data) == 0x8000 {
		return criacb.WaveformEncodeTypeADX
	}
	return -1
}

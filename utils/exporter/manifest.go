package exporter

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shamaton/msgpack/v2"
)

// ManifestEntry describes one exported asset. Index is the waveform
// entry for cue sheets and the asset position for standalone archives.
// Port is -1 for assets from the embedded archive.
type ManifestEntry struct {
	Index      int    `json:"index" msgpack:"index"`
	Name       string `json:"name" msgpack:"name"`
	Memory     bool   `json:"memory" msgpack:"memory"`
	Port       int    `json:"port" msgpack:"port"`
	AssetID    int    `json:"asset_id" msgpack:"asset_id"`
	AssetIndex int    `json:"asset_index" msgpack:"asset_index"`
	Subkey     uint16 `json:"subkey" msgpack:"subkey"`
	EncodeType int    `json:"encode_type" msgpack:"encode_type"`
	Size       int    `json:"size" msgpack:"size"`
	Blake3     string `json:"blake3" msgpack:"blake3"`
	Path       string `json:"path" msgpack:"path"`
}

type Manifest struct {
	Source  string          `json:"source" msgpack:"source"`
	Streams []string        `json:"streams,omitempty" msgpack:"streams,omitempty"`
	Entries []ManifestEntry `json:"entries" msgpack:"entries"`
	Skipped []string        `json:"skipped,omitempty" msgpack:"skipped,omitempty"`
}

func (m *Manifest) sort() {
	slices.SortFunc(m.Entries, func(a, b ManifestEntry) int {
		return a.Index - b.Index
	})
	slices.Sort(m.Skipped)
}

// Marshal encodes the manifest as "json" or "msgpack".
func (m *Manifest) Marshal(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return sonic.ConfigStd.MarshalIndent(m, "", "  ")
	case "msgpack":
		return msgpack.Marshal(m)
	}
	return nil, fmt.Errorf("unsupported manifest format %q", format)
}

// ManifestExtension is the file extension used for format.
func ManifestExtension(format string) string {
	if strings.ToLower(format) == "msgpack" {
		return ".manifest.msgpack"
	}
	return ".manifest.json"
}

// Write stores the manifest at path. Formats "" and "none" write nothing.
func (m *Manifest) Write(path string, format string) error {
	if format == "" || strings.ToLower(format) == "none" {
		return nil
	}
	data, err := m.Marshal(format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if strings.HasSuffix(path, ".msgpack") {
		err = msgpack.Unmarshal(data, &m)
	} else {
		err = sonic.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return &m, nil
}

package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"haruki-cri-extractor/config"
	"haruki-cri-extractor/utils/cricodecs/criacb"
	harukiLogger "haruki-cri-extractor/utils/logger"
	"haruki-cri-extractor/utils/tabledump"

	"github.com/dlclark/regexp2"
)

var logger = harukiLogger.NewLogger("HarukiCRIExporter", "INFO", nil)

// Options controls how cue sheets and archives are written out.
// OutputDir empty means next to the source file.
type Options struct {
	OutputDir      string
	Key            uint64
	Decoder        Decoder
	Resolver       criacb.Resolver
	ParseOptions   []criacb.ParseOption
	SkipPattern    *regexp2.Regexp
	ConvertToMP3   bool
	ConvertToFLAC  bool
	RemoveWav      bool
	FFMPEGPath     string
	ManifestFormat string
	Concurrency    int
	RemoveSource   bool
}

// CompileSkipPattern compiles an output-name filter. Names that match are
// not exported. The pattern syntax allows look-arounds.
func CompileSkipPattern(pattern string) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid skip pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = time.Second
	return re, nil
}

// OptionsFromConfig builds Options from the extract and tool sections.
// Resolver is left for the caller.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	key, err := cfg.Extract.Key()
	if err != nil {
		return Options{}, err
	}
	skip, err := CompileSkipPattern(cfg.Extract.SkipPattern)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		OutputDir:      cfg.Extract.OutputDir,
		Key:            key,
		Decoder:        RawDecoder{},
		SkipPattern:    skip,
		ConvertToMP3:   cfg.Extract.ConvertWavToMP3,
		ConvertToFLAC:  cfg.Extract.ConvertWavToFLAC,
		RemoveWav:      cfg.Extract.RemoveWav,
		FFMPEGPath:     cfg.Tools.FFMPEGPath,
		ManifestFormat: cfg.Extract.ManifestFormat,
		Concurrency:    cfg.Extract.ConcurrentAssets,
		RemoveSource:   cfg.Extract.RemoveSource,
	}
	if cfg.Extract.DecodeAudio {
		if cfg.Tools.DecoderProgram == "" {
			return Options{}, fmt.Errorf("decode_audio is set but no decoder_program is configured")
		}
		opts.Decoder = CommandDecoder{
			Program:   cfg.Tools.DecoderProgram,
			Args:      cfg.Tools.DecoderArgs,
			OutputExt: cfg.Tools.DecoderOutputExt,
		}
	}
	switch strings.ToLower(strings.ReplaceAll(cfg.Extract.LegacyCharset, "-", "_")) {
	case "":
	case "shift_jis", "sjis", "cp932":
		opts.ParseOptions = append(opts.ParseOptions, criacb.WithShiftJIS())
	default:
		return Options{}, fmt.Errorf("unsupported legacy_charset %q", cfg.Extract.LegacyCharset)
	}
	return opts, nil
}

func (o *Options) decoder() Decoder {
	if o.Decoder == nil {
		return RawDecoder{}
	}
	return o.Decoder
}

func (o *Options) skip(name string) bool {
	if o.SkipPattern == nil {
		return false
	}
	matched, err := o.SkipPattern.MatchString(name)
	if err != nil {
		logger.Warnf("Skip pattern failed on %s: %v", name, err)
		return false
	}
	return matched
}

type exportJob struct {
	entry ManifestEntry
	data  []byte
}

// outputLayout returns the directory holding the manifest and the
// per-source subdirectory the assets go into.
func (o *Options) outputLayout(source string) (string, string) {
	root := o.OutputDir
	if root == "" {
		root = filepath.Dir(source)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return root, base
}

// OutputFiles lists what exporting source wrote: every asset in m plus
// the manifest file, as absolute paths under the returned root.
func (o *Options) OutputFiles(source string, m *Manifest) (string, []string) {
	root, base := o.outputLayout(source)
	files := make([]string, 0, len(m.Entries)+1)
	for _, e := range m.Entries {
		files = append(files, filepath.Join(root, filepath.FromSlash(e.Path)))
	}
	if o.ManifestFormat != "" && !strings.EqualFold(o.ManifestFormat, "none") {
		files = append(files, filepath.Join(root, base+ManifestExtension(o.ManifestFormat)))
	}
	return root, files
}

var nameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "")

// ExportACB opens a cue sheet, resolving external archives through
// opts.Resolver, and writes every asset its waveform table reaches. Files
// are named after their cue when the cue tables are present, otherwise
// memory_N / stream_N.
func ExportACB(ctx context.Context, acbFile string, opts Options) (*Manifest, error) {
	data, err := os.ReadFile(acbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ACB file: %w", err)
	}
	acb, err := criacb.OpenACBWithResolver(ctx, data, opts.Resolver, opts.ParseOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to open ACB file %s: %w", acbFile, err)
	}

	tracks, err := criacb.NewTrackList(acb)
	if err != nil {
		logger.Debugf("No cue names for %s: %v", acbFile, err)
	}

	root, base := opts.outputLayout(acbFile)
	manifest := &Manifest{Source: filepath.Base(acbFile), Streams: acb.StreamAWBNames}
	dec := opts.decoder()

	var jobs []exportJob
	used := make(map[string]bool)
	memoryCount, streamCount := 0, 0
	err = acb.Walk(func(asset criacb.AFSAsset, subkey uint16, isMemory bool, index int) error {
		w := acb.Waveforms[index]
		var name string
		if tracks != nil {
			if track, ok := tracks.ForWaveform(index); ok {
				name = nameReplacer.Replace(track.Name)
			}
		}
		if isMemory {
			if name == "" {
				name = fmt.Sprintf("memory_%d", memoryCount)
			}
			memoryCount++
		} else {
			if name == "" {
				name = fmt.Sprintf("stream_%d", streamCount)
			}
			streamCount++
		}
		if used[name] {
			name = fmt.Sprintf("%s-%d", name, index)
		}
		used[name] = true

		if opts.skip(name) {
			logger.Debugf("Skipping %s from %s", name, acbFile)
			manifest.Skipped = append(manifest.Skipped, name)
			return nil
		}

		port := -1
		if !isMemory {
			port = w.StreamPort
		}
		jobs = append(jobs, exportJob{
			entry: ManifestEntry{
				Index:      index,
				Name:       name,
				Memory:     isMemory,
				Port:       port,
				AssetID:    asset.ID,
				AssetIndex: asset.Index,
				Subkey:     subkey,
				EncodeType: w.EncodeType,
				Size:       len(asset.Data),
				Path:       filepath.ToSlash(filepath.Join(base, name+dec.Extension(w.EncodeType))),
			},
			data: asset.Data,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := opts.run(ctx, root, jobs, manifest); err != nil {
		return nil, err
	}
	if err := opts.finish(acbFile, root, base, manifest); err != nil {
		return nil, err
	}
	logger.Infof("Exported %d assets from %s", len(manifest.Entries), acbFile)
	return manifest, nil
}

// ExportAWB writes every asset of a standalone archive, named
// <archive>_<index>.
func ExportAWB(ctx context.Context, awbFile string, opts Options) (*Manifest, error) {
	data, err := os.ReadFile(awbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read AWB file: %w", err)
	}
	archive, err := criacb.ParseAFSArchive(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWB file %s: %w", awbFile, err)
	}

	root, base := opts.outputLayout(awbFile)
	manifest := &Manifest{Source: filepath.Base(awbFile)}
	dec := opts.decoder()

	var jobs []exportJob
	for _, asset := range archive.Assets {
		name := fmt.Sprintf("%s_%d", base, asset.Index)
		if opts.skip(name) {
			manifest.Skipped = append(manifest.Skipped, name)
			continue
		}
		encodeType := SniffEncodeType(asset.Data)
		jobs = append(jobs, exportJob{
			entry: ManifestEntry{
				Index:      asset.Index,
				Name:       name,
				Port:       -1,
				AssetID:    asset.ID,
				AssetIndex: asset.Index,
				Subkey:     archive.Subkey,
				EncodeType: encodeType,
				Size:       len(asset.Data),
				Path:       filepath.ToSlash(filepath.Join(base, name+dec.Extension(encodeType))),
			},
			data: asset.Data,
		})
	}

	if err := opts.run(ctx, root, jobs, manifest); err != nil {
		return nil, err
	}
	if err := opts.finish(awbFile, root, base, manifest); err != nil {
		return nil, err
	}
	logger.Infof("Exported %d assets from %s", len(manifest.Entries), awbFile)
	return manifest, nil
}

// run decodes and writes jobs with bounded concurrency. Every failure is
// logged; the first one is returned with the failure count.
func (o *Options) run(ctx context.Context, root string, jobs []exportJob, manifest *Manifest) error {
	if len(jobs) == 0 {
		return nil
	}
	dec := o.decoder()
	workers := o.Concurrency
	if workers <= 0 {
		workers = 1
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, workers)
		errChan   = make(chan error, len(jobs))
	)
	for _, job := range jobs {
		wg.Add(1)
		go func(job exportJob) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errChan <- fmt.Errorf("panic exporting %s: %v", job.entry.Name, r)
				}
			}()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				errChan <- err
				return
			}
			entry, err := o.exportOne(ctx, dec, root, job)
			if err != nil {
				errChan <- fmt.Errorf("failed to export %s: %w", job.entry.Name, err)
				return
			}
			mu.Lock()
			manifest.Entries = append(manifest.Entries, entry)
			mu.Unlock()
		}(job)
	}
	wg.Wait()
	close(errChan)

	var firstErr error
	errorCount := 0
	for err := range errChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
		logger.Warnf("Asset export error: %v", err)
	}
	if errorCount > 0 {
		return fmt.Errorf("failed to export %d assets: %w", errorCount, firstErr)
	}
	manifest.sort()
	return nil
}

func (o *Options) exportOne(ctx context.Context, dec Decoder, root string, job exportJob) (ManifestEntry, error) {
	entry := job.entry
	out, err := dec.Decode(ctx, job.data, o.Key, entry.Subkey)
	if err != nil {
		return entry, err
	}
	path := filepath.Join(root, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return entry, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return entry, fmt.Errorf("failed to write %s: %w", path, err)
	}
	final, err := o.convert(ctx, path)
	if err != nil {
		return entry, err
	}
	if rel, err := filepath.Rel(root, final); err == nil {
		entry.Path = filepath.ToSlash(rel)
	}
	entry.Blake3 = tabledump.Digest(job.data)
	return entry, nil
}

func (o *Options) finish(source string, root string, base string, manifest *Manifest) error {
	if o.ManifestFormat != "" && !strings.EqualFold(o.ManifestFormat, "none") {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		path := filepath.Join(root, base+ManifestExtension(o.ManifestFormat))
		if err := manifest.Write(path, o.ManifestFormat); err != nil {
			return err
		}
	}
	if o.RemoveSource {
		if err := os.Remove(source); err != nil {
			return fmt.Errorf("failed to delete original file: %w", err)
		}
	}
	return nil
}

// Package batch exports every cue sheet (and optionally every standalone
// archive) under a directory.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"haruki-cri-extractor/config"
	"haruki-cri-extractor/utils"
	"haruki-cri-extractor/utils/cloud"
	"haruki-cri-extractor/utils/exporter"
	harukiLogger "haruki-cri-extractor/utils/logger"
	"haruki-cri-extractor/utils/resolver"
)

var logger = harukiLogger.NewLogger("HarukiBatchExporter", "INFO", nil)

// Runner exports files with bounded concurrency. Each cue sheet looks for
// its external archives next to itself first, then through Resolvers.
type Runner struct {
	Options     exporter.Options
	Resolvers   resolver.Chain
	Concurrency int
	IncludeAWB  bool

	Upload            bool
	Storages          []config.RemoteStorageConfig
	UploadConcurrency int
	RemoveAfterUpload bool
}

// Result lists the manifests written, keyed by source path.
type Result struct {
	Manifests map[string]*exporter.Manifest
}

func (r *Result) Sources() []string {
	sources := make([]string, 0, len(r.Manifests))
	for s := range r.Manifests {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// NewRunner builds a Runner from configuration.
func NewRunner(cfg config.Config) (*Runner, error) {
	opts, err := exporter.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	chain, err := resolver.New(cfg.Resolvers, cfg.Proxy)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Options:           opts,
		Resolvers:         chain,
		Concurrency:       cfg.Extract.ConcurrentFiles,
		IncludeAWB:        cfg.Extract.IncludeAWB,
		Upload:            cfg.Extract.UploadToCloud,
		Storages:          cfg.RemoteStorages,
		UploadConcurrency: cfg.ConcurrentUploads,
		RemoveAfterUpload: cfg.Extract.RemoveLocalAfterUpload,
	}, nil
}

// Run exports path, which may be a single .acb/.awb file or a directory.
func (r *Runner) Run(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	result := &Result{Manifests: make(map[string]*exporter.Manifest)}

	if !info.IsDir() {
		m, err := r.exportFile(ctx, path)
		if err != nil {
			return nil, err
		}
		result.Manifests[path] = m
		return result, nil
	}

	acbFiles, err := utils.FindFilesByExtension(path, ".acb")
	if err != nil {
		return nil, err
	}
	logger.Infof("Found %d ACB files in %s", len(acbFiles), path)
	if err := r.exportAll(ctx, acbFiles, result); err != nil {
		return result, err
	}
	if !r.IncludeAWB {
		return result, nil
	}

	awbFiles, err := utils.FindFilesByExtension(path, ".awb")
	if err != nil {
		return result, err
	}
	standalone := r.standaloneArchives(awbFiles, result)
	logger.Infof("Found %d standalone AWB files in %s", len(standalone), path)
	return result, r.exportAll(ctx, standalone, result)
}

// standaloneArchives drops archives that an exported cue sheet already
// streamed from.
func (r *Runner) standaloneArchives(awbFiles []string, result *Result) []string {
	referenced := make(map[string]bool)
	for source, m := range result.Manifests {
		for _, name := range m.Streams {
			referenced[filepath.Join(filepath.Dir(source), name+".awb")] = true
		}
	}
	var out []string
	for _, f := range awbFiles {
		if !referenced[f] {
			out = append(out, f)
		}
	}
	return out
}

func (r *Runner) exportAll(ctx context.Context, files []string, result *Result) error {
	if len(files) == 0 {
		return nil
	}
	workers := r.Concurrency
	if workers <= 0 {
		workers = 1
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, workers)
		errChan   = make(chan error, len(files))
	)
	for _, file := range files {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			m, err := r.exportFile(ctx, f)
			if err != nil {
				errChan <- err
				return
			}
			mu.Lock()
			result.Manifests[f] = m
			mu.Unlock()
		}(file)
	}
	wg.Wait()
	close(errChan)

	var firstErr error
	errorCount := 0
	for e := range errChan {
		errorCount++
		if firstErr == nil {
			firstErr = e
		}
		logger.Warnf("Export error: %v", e)
	}
	if errorCount > 0 {
		return fmt.Errorf("failed to export %d files: %w", errorCount, firstErr)
	}
	return nil
}

func (r *Runner) exportFile(ctx context.Context, file string) (*exporter.Manifest, error) {
	opts := r.Options
	var (
		m   *exporter.Manifest
		err error
	)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".acb":
		chain := append(resolver.Chain{resolver.Dir{Root: filepath.Dir(file)}}, r.Resolvers...)
		opts.Resolver = chain
		logger.Infof("Exporting ACB file: %s", file)
		m, err = exporter.ExportACB(ctx, file, opts)
	case ".awb":
		logger.Infof("Exporting AWB file: %s", file)
		m, err = exporter.ExportAWB(ctx, file, opts)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", file, err)
	}

	if r.Upload {
		root, files := opts.OutputFiles(file, m)
		if len(files) > 0 {
			logger.Infof("Found %d files to upload from %s", len(files), file)
			if err := cloud.UploadToAllStorages(ctx, r.Storages, files, root, r.UploadConcurrency, r.RemoveAfterUpload); err != nil {
				return nil, fmt.Errorf("failed to upload files from %s: %w", file, err)
			}
		}
	}
	return m, nil
}

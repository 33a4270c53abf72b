package exporter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func runFFMPEG(ctx context.Context, ffmpegPath string, inFile string, outFile string, codecArgs ...string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	args := append([]string{"-i", inFile}, codecArgs...)
	args = append(args, "-y", outFile)
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}

func removeOriginal(path string, what string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to delete original %s file: %w", what, err)
		}
	}
	return nil
}

func ConvertWavToFLAC(ctx context.Context, wavFile string, flacFile string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFMPEG(ctx, ffmpegPath, wavFile, flacFile, "-compression_level", "12"); err != nil {
		return fmt.Errorf("failed to convert WAV to FLAC: %w", err)
	}
	if deleteOriginal {
		return removeOriginal(wavFile, "WAV")
	}
	return nil
}

func ConvertWavToMP3(ctx context.Context, wavFile string, mp3File string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFMPEG(ctx, ffmpegPath, wavFile, mp3File, "-b:a", "320k"); err != nil {
		return fmt.Errorf("failed to convert WAV to MP3: %w", err)
	}
	if deleteOriginal {
		return removeOriginal(wavFile, "WAV")
	}
	return nil
}

// convert applies the configured WAV conversion to path and returns the
// file that should be reported. Non-WAV outputs are left alone.
func (o *Options) convert(ctx context.Context, path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return path, nil
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	switch {
	case o.ConvertToMP3:
		mp3File := base + ".mp3"
		if err := ConvertWavToMP3(ctx, path, mp3File, o.RemoveWav, o.FFMPEGPath); err != nil {
			return "", err
		}
		return mp3File, nil
	case o.ConvertToFLAC:
		flacFile := base + ".flac"
		if err := ConvertWavToFLAC(ctx, path, flacFile, o.RemoveWav, o.FFMPEGPath); err != nil {
			return "", err
		}
		return flacFile, nil
	}
	return path, nil
}

package utils

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// FindFilesByExtension walks dir and returns every regular file whose name
// ends in ext, compared case-insensitively, in lexical order.
func FindFilesByExtension(dir string, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(strings.ToLower(d.Name()), ext) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

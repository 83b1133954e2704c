package ingest

import (
	"io/fs"
	"path/filepath"
)

// DirLister walks the filesystem rooted at the scan root; the default
// Lister implementation.
type DirLister struct{}

func (DirLister) List(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

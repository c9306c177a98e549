package source

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScanDir walks dir and returns every .toml submission file, sorted by path.
// A missing directory yields no files.
func ScanDir(dir string) ([]DiscoveredFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".toml" {
			return nil
		}
		df, err := Stat(path)
		if err != nil {
			return nil //nolint:nilerr // file vanished between walk and stat
		}
		files = append(files, df)
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, err
}

// Stat describes a single submission file.
func Stat(path string) (DiscoveredFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return DiscoveredFile{}, err
	}
	return DiscoveredFile{Path: path, MtimeNs: info.ModTime().UnixNano(), SizeBytes: info.Size()}, nil
}

package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage returns the bytes the configured backend occupies on disk,
// counting its lock and journal files. A backend that has not written
// anything yet, and the memory backend, report zero.
func (o Options) DiskUsage() (int64, error) {
	var total int64
	seen := make(map[string]bool)
	for _, p := range o.Paths() {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		n, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Paths lists the files that may back the configured backend.
func (o Options) Paths() []string {
	switch o.Backend {
	case KindFile, "":
		return []string{o.IndexPath, o.IndexPath + ".lock"}
	case KindSQLite:
		return []string{o.DatabasePath, o.DatabasePath + "-wal", o.DatabasePath + "-shm", o.DatabasePath + "-journal"}
	case KindBolt:
		return []string{o.BoltPath}
	default:
		return nil
	}
}

// pathSize sizes a file, or a directory recursively. Missing paths count zero.
func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm"}

// DiskUsageBytes sums the size of index directories and database files. A file path also
// counts its SQLite WAL sidecars. Empty and missing paths count as zero; a path given twice
// is counted once.
func DiskUsageBytes(paths ...string) (int64, error) {
	seen := make(map[string]bool, len(paths))
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true

		n, isDir, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
		if isDir {
			continue
		}
		for _, suffix := range sqliteSidecars {
			n, _, err := pathSize(p + suffix)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func pathSize(p string) (int64, bool, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !info.IsDir() {
		return info.Size(), false, nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, true, err
}

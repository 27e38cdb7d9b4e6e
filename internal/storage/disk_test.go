package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	write := func(path string, size int) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	index := filepath.Join(dir, "vector_index")
	write(filepath.Join(index, "image_index.bin"), 40)
	write(filepath.Join(index, "image_meta.json"), 7)
	write(filepath.Join(index, "keyword.bleve", "store"), 3)
	db := filepath.Join(dir, "ruiji.db")
	write(db, 100)
	write(db+"-wal", 20)

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"index dir is summed recursively", []string{index}, 50},
		{"database counts its wal sidecar", []string{db}, 120},
		{"index and database", []string{index, db}, 170},
		{"missing and empty paths count zero", []string{"", filepath.Join(dir, "nope"), db}, 120},
		{"duplicate paths counted once", []string{index, index + "/"}, 50},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsageBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

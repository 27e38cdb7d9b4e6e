package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type changeLog struct {
	mu   sync.Mutex
	dirs []string
}

func (c *changeLog) add(dir string) {
	c.mu.Lock()
	c.dirs = append(c.dirs, dir)
	c.mu.Unlock()
}

func (c *changeLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dirs...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, dirs []string, log *changeLog) *Watcher {
	t.Helper()
	w := NewWatcher(dirs, log.add, WithDebounce(150*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_SwapFiresOnce(t *testing.T) {
	parent := t.TempDir()
	indexDir := filepath.Join(parent, "vector_index")
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		t.Fatal(err)
	}
	log := &changeLog{}
	startWatcher(t, []string{indexDir}, log)

	tmp := filepath.Join(parent, ".vector_index.tmp-1")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "index_manifest.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(indexDir, indexDir+".bak"); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, indexDir); err != nil {
		t.Fatal(err)
	}
	_ = os.RemoveAll(indexDir + ".bak")

	if !waitFor(t, 2*time.Second, func() bool { return len(log.snapshot()) > 0 }) {
		t.Fatal("no change reported after swap")
	}
	time.Sleep(400 * time.Millisecond)
	got := log.snapshot()
	if len(got) != 1 {
		t.Errorf("expected one debounced change, got %d", len(got))
	}
	if got[0] != indexDir {
		t.Errorf("dir = %s, want %s", got[0], indexDir)
	}

	// the swapped-in directory is watched too
	if err := os.WriteFile(filepath.Join(indexDir, "image_meta.json"), []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return len(log.snapshot()) >= 2 }) {
		t.Error("in-place edit after swap not reported")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	parent := t.TempDir()
	indexDir := filepath.Join(parent, "vector_index")
	log := &changeLog{}
	startWatcher(t, []string{indexDir}, log)

	if err := os.WriteFile(filepath.Join(parent, "products.jsonl"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := log.snapshot(); len(got) != 0 {
		t.Errorf("unexpected changes: %v", got)
	}

	if err := os.MkdirAll(indexDir, 0755); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return len(log.snapshot()) == 1 }) {
		t.Error("first build not reported")
	}
}

func TestWatcher_Start_createsMissingParent(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "data", "indexes")
	indexDir := filepath.Join(parent, "vector_index")
	w := startWatcher(t, []string{indexDir}, &changeLog{})
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		t.Fatalf("parent not created: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != indexDir {
		t.Errorf("Directories() = %v", dirs)
	}
	w.Stop()
	w.Stop()
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorage_Builds(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, dir := range []string{"idx-a", "idx-b", "idx-c"} {
		rec := &BuildRecord{
			IndexDir:  dir,
			ModelID:   "mock",
			Count:     10 + i,
			Skipped:   i,
			TextFused: i%2 == 0,
			Alpha:     0.7,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordBuild(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if rec.ID == "" {
			t.Error("ID should be assigned")
		}
	}

	builds, err := store.ListBuilds(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(builds))
	}
	if builds[0].IndexDir != "idx-c" || builds[1].IndexDir != "idx-b" {
		t.Errorf("order = %s, %s", builds[0].IndexDir, builds[1].IndexDir)
	}
	if builds[0].Count != 12 || builds[0].Skipped != 2 || !builds[0].TextFused || builds[0].Alpha != 0.7 {
		t.Errorf("round trip = %+v", builds[0])
	}
	if builds[1].TextFused {
		t.Error("idx-b should not be text fused")
	}
}

func TestSQLiteStorage_Queries(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	n, err := store.CountQueries(ctx)
	if err != nil || n != 0 {
		t.Fatalf("empty count = %d, %v", n, err)
	}
	if err := store.RecordQuery(ctx, &QueryRecord{
		IndexDir: "idx", ImagePath: "/q.jpg", TopK: 3, Average: 812.5,
		ResultIDs: []string{"a", "b", "c"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordQuery(ctx, &QueryRecord{IndexDir: "idx", ImagePath: "/r.jpg", TopK: 5}); err != nil {
		t.Fatal(err)
	}

	n, err = store.CountQueries(ctx)
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}
	queries, err := store.ListQueries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	var first *QueryRecord
	for _, q := range queries {
		if q.ImagePath == "/q.jpg" {
			first = q
		}
	}
	if first == nil {
		t.Fatal("query /q.jpg missing")
	}
	if first.Average != 812.5 || len(first.ResultIDs) != 3 || first.ResultIDs[2] != "c" {
		t.Errorf("round trip = %+v", first)
	}
}

func TestSQLiteStorage_Memory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.RecordBuild(ctx, &BuildRecord{IndexDir: "x", ModelID: "m", Count: 1}); err != nil {
		t.Fatal(err)
	}
	builds, err := store.ListBuilds(ctx, 0)
	if err != nil || len(builds) != 1 {
		t.Fatalf("builds = %v, %v", builds, err)
	}
}

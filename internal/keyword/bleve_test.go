package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

func testItems() []models.Item {
	return []models.Item{
		{ID: "Men:Shirts:1", ImagePath: "/a.jpg", Name: "Oxford Shirt", Details: "Slim fit cotton", Category: "Shirts", Gender: "Men"},
		{ID: "Women:Dresses:2", ImagePath: "/b.jpg", Name: "Summer Dress", Details: "Floral print", Category: "Dresses", Gender: "Women"},
		{ID: "Men:Shirts:1", ImagePath: "/c.jpg", Name: "Oxford Shirt", Details: "Slim fit cotton", Category: "Shirts", Gender: "Men"},
		{ID: "Men:Jeans:3", ImagePath: "/d.jpg"},
	}
}

func TestCatalogIndex_BuildSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), DirName)
	idx, err := Build(path, testItems())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer idx.Close()

	n, err := idx.DocCount()
	if err != nil || n != 4 {
		t.Fatalf("DocCount = %d, %v", n, err)
	}

	results, err := idx.Search(context.Background(), "oxford", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits for oxford, got %d", len(results))
	}
	if results[0].Row != 0 || results[1].Row != 2 {
		t.Errorf("rows = %d, %d; want 0, 2", results[0].Row, results[1].Row)
	}
	if results[0].ID != "Men:Shirts:1" {
		t.Errorf("ID = %q", results[0].ID)
	}

	floral, err := idx.Search(context.Background(), "floral", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(floral) != 1 || floral[0].Row != 1 {
		t.Errorf("details search: %+v", floral)
	}
}

func TestCatalogIndex_Fuzzy(t *testing.T) {
	path := filepath.Join(t.TempDir(), DirName)
	idx, err := Build(path, testItems())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	exact, err := idx.Search(ctx, "oxfrod", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(exact) != 0 {
		t.Errorf("typo should not match without fuzzy, got %d", len(exact))
	}
	fuzzy, err := idx.Search(ctx, "oxfrod", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) == 0 {
		t.Error("expected fuzzy match for oxfrod")
	}
}

func TestCatalogIndex_NameBoost(t *testing.T) {
	items := []models.Item{
		{ID: "a", Details: "a dress with a belt"},
		{ID: "b", Name: "Belt"},
	}
	idx, err := Build(filepath.Join(t.TempDir(), DirName), items)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	results, err := idx.Search(context.Background(), "belt", 10, &SearchOptions{NameBoost: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "b" {
		t.Errorf("name match should rank first: %+v", results)
	}
}

func TestCatalogIndex_Open(t *testing.T) {
	path := filepath.Join(t.TempDir(), DirName)
	idx, err := Build(path, testItems())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	opened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()
	results, err := opened.Search(context.Background(), "dress", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "Women:Dresses:2" {
		t.Errorf("results = %+v", results)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error opening missing index")
	}
}

package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/hyperjump/ruiji/internal/catalog"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/fusion"
	"github.com/hyperjump/ruiji/internal/models"
	"go.uber.org/zap"
)

func writeSolidPNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

type catalogFixture struct {
	dir      string
	manifest string
	products string
	out      string
}

// newFixture writes three solid images (red, green, blue), a manifest with one extra
// missing image, and a products file that has no record for "c".
func newFixture(t *testing.T) *catalogFixture {
	t.Helper()
	dir := t.TempDir()
	colors := []color.RGBA{{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 255}}
	var entries []models.ManifestEntry
	for i, id := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, id+".png")
		writeSolidPNG(t, p, colors[i])
		entries = append(entries, models.ManifestEntry{ID: id, ImagePath: p})
	}
	entries = append(entries, models.ManifestEntry{ID: "gone", ImagePath: filepath.Join(dir, "gone.png")})
	manifest := filepath.Join(dir, "images_manifest.jsonl")
	if err := catalog.WriteManifest(manifest, entries); err != nil {
		t.Fatal(err)
	}
	products := filepath.Join(dir, "products.jsonl")
	content := `{"id":"a","name":"Oxford Shirt","details":"Slim fit","price":"1299","gender":"Men","category":"Shirts","link":"http://shop/a"}
{"id":"b","name":"Summer Dress","details":"nan","price":999,"amount_sold":12}
`
	if err := os.WriteFile(products, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return &catalogFixture{dir: dir, manifest: manifest, products: products, out: filepath.Join(dir, "vector_index")}
}

func TestBuild_ImageOnly(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(embedding.NewMockProvider(16), WithLogger(zap.NewNop()))
	res, err := b.Build(context.Background(), BuildOptions{ManifestPath: fx.manifest, OutDir: fx.out, BatchSize: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Count != 3 || res.Skipped != 1 || res.TextFused || res.Dim != 16 {
		t.Errorf("result = %+v", res)
	}

	a, err := LoadArtifacts(fx.out)
	if err != nil {
		t.Fatalf("LoadArtifacts: %v", err)
	}
	defer a.Close()
	if a.Index.Size() != len(a.Items) || len(a.Items) != 3 {
		t.Fatalf("rows: index %d, metadata %d", a.Index.Size(), len(a.Items))
	}
	for i, it := range a.Items {
		if it.Name != "" || it.AmountSold != nil {
			t.Errorf("row %d should only carry id and image_path: %+v", i, it)
		}
	}
	if a.Manifest.ModelID != embedding.MockModelID || a.Manifest.TextFused || a.Manifest.Count != 3 {
		t.Errorf("manifest = %+v", a.Manifest)
	}
	if a.KeywordPath() != "" {
		t.Errorf("keyword index should be absent, got %s", a.KeywordPath())
	}

	// image-only rows equal the provider's vectors
	img, _ := embedding.DecodeImageFile(a.Items[1].ImagePath)
	want, _ := embedding.NewMockProvider(16).EmbedImages(context.Background(), []image.Image{img})
	hits, err := a.Index.Search(context.Background(), want, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0][0].ID != "b" || math.Abs(float64(hits[0][0].Score)-1) > 1e-5 {
		t.Errorf("self query hit = %+v", hits[0][0])
	}
}

func TestBuild_TextFused(t *testing.T) {
	fx := newFixture(t)
	provider := embedding.NewMockProvider(16)
	alpha := float32(0.6)
	res, err := NewBuilder(provider).Build(context.Background(), BuildOptions{
		ManifestPath:       fx.manifest,
		ProductsPath:       fx.products,
		OutDir:             fx.out,
		Alpha:              &alpha,
		KeywordIndex:       true,
		BackfillAmountSold: true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.TextFused || res.JoinMisses != 1 || res.Backfilled != 2 {
		t.Errorf("result = %+v", res)
	}

	a, err := LoadArtifacts(fx.out)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if !a.Manifest.TextFused || a.Manifest.Alpha != alpha {
		t.Errorf("manifest = %+v", a.Manifest)
	}
	if a.KeywordPath() == "" {
		t.Error("keyword index path missing")
	} else if _, err := os.Stat(a.KeywordPath()); err != nil {
		t.Errorf("keyword index not written: %v", err)
	}

	first := a.Items[0]
	if first.Name != "Oxford Shirt" || first.Link != "http://shop/a" || first.Gender != "Men" || first.Price != "1299" {
		t.Errorf("joined row = %+v", first)
	}
	if a.Items[1].AmountSold != json.Number("12") {
		t.Errorf("existing amount_sold overwritten: %#v", a.Items[1].AmountSold)
	}
	if a.Items[2].Name != "" || a.Items[2].AmountSold == nil {
		t.Errorf("join miss row = %+v", a.Items[2])
	}

	ctx := context.Background()
	img, _ := embedding.DecodeImageFile(first.ImagePath)
	imgVec, _ := provider.EmbedImages(ctx, []image.Image{img})
	txtVec, _ := provider.EmbedTexts(ctx, []string{"Oxford Shirt. Slim fit"})
	fused, _ := fusion.Fuse(imgVec, txtVec, alpha)
	hits, err := a.Index.Search(ctx, fused, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0][0].Row != 0 || math.Abs(float64(hits[0][0].Score)-1) > 1e-5 {
		t.Errorf("fused self query = %+v", hits[0][0])
	}
}

// scaledProvider returns mock image embeddings multiplied by factor.
type scaledProvider struct {
	*embedding.MockProvider
	factor float32
}

func (p scaledProvider) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	rows, err := p.MockProvider.EmbedImages(ctx, images)
	for _, r := range rows {
		for i := range r {
			r[i] *= p.factor
		}
	}
	return rows, err
}

func TestBuild_RejectsUnnormalizedRows(t *testing.T) {
	fx := newFixture(t)
	_, err := NewBuilder(scaledProvider{embedding.NewMockProvider(32), 2}).Build(context.Background(), BuildOptions{
		ManifestPath: fx.manifest, OutDir: fx.out,
	})
	if err == nil {
		t.Fatal("expected error for rows with norm 2")
	}
	if _, statErr := os.Stat(fx.out); !os.IsNotExist(statErr) {
		t.Error("output directory should not exist after a rejected build")
	}
}

func TestCheckUnitNorm(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]float32
		wantErr bool
	}{
		{"unit", [][]float32{{1, 0}, {0, 0.6, 0.8}}, false},
		{"zero row", [][]float32{{0, 0}}, false},
		{"within tolerance", [][]float32{{1.0005, 0}}, false},
		{"scaled", [][]float32{{1, 0}, {2, 0}}, true},
		{"shrunk", [][]float32{{0.5, 0}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkUnitNorm(tt.rows); (err != nil) != tt.wantErr {
				t.Errorf("checkUnitNorm = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "m.jsonl")
	if err := catalog.WriteManifest(manifest, []models.ManifestEntry{{ID: "x", ImagePath: filepath.Join(dir, "none.png")}}); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	_, err := NewBuilder(embedding.NewMockProvider(4)).Build(context.Background(), BuildOptions{ManifestPath: manifest, OutDir: out})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("output directory should not exist after a failed build")
	}
}

func TestBuild_DecodeFailureUsesPlaceholder(t *testing.T) {
	fx := newFixture(t)
	if err := os.WriteFile(filepath.Join(fx.dir, "b.png"), []byte("corrupt"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := NewBuilder(embedding.NewMockProvider(8)).Build(context.Background(), BuildOptions{ManifestPath: fx.manifest, OutDir: fx.out})
	if err != nil {
		t.Fatal(err)
	}
	if res.DecodeFailures != 1 || res.Count != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestBuild_FailureKeepsPreviousIndex(t *testing.T) {
	fx := newFixture(t)
	b := NewBuilder(embedding.NewMockProvider(8))
	ctx := context.Background()
	if _, err := b.Build(ctx, BuildOptions{ManifestPath: fx.manifest, OutDir: fx.out}); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(fx.dir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{broken\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build(ctx, BuildOptions{ManifestPath: bad, OutDir: fx.out}); err == nil {
		t.Fatal("expected error for malformed manifest")
	}
	a, err := LoadArtifacts(fx.out)
	if err != nil {
		t.Fatalf("previous index lost: %v", err)
	}
	defer a.Close()
	if a.Index.Size() != 3 {
		t.Errorf("size = %d, want 3", a.Index.Size())
	}

	entries, _ := os.ReadDir(fx.dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".bak" || (len(e.Name()) > 0 && e.Name()[0] == '.') {
			t.Errorf("leftover temp entry %s", e.Name())
		}
	}
}

func TestBuild_Locked(t *testing.T) {
	fx := newFixture(t)
	l := flock.New(fx.out + ".lock")
	locked, err := l.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not take lock: %v", err)
	}
	defer l.Unlock()

	_, err = NewBuilder(embedding.NewMockProvider(4)).Build(context.Background(), BuildOptions{
		ManifestPath: fx.manifest,
		OutDir:       fx.out,
		LockTimeout:  300 * time.Millisecond,
	})
	if !errors.Is(err, ErrBuildLocked) {
		t.Errorf("err = %v, want ErrBuildLocked", err)
	}
}

func TestBuild_InvalidAlpha(t *testing.T) {
	fx := newFixture(t)
	alpha := float32(1.5)
	if _, err := NewBuilder(embedding.NewMockProvider(4)).Build(context.Background(), BuildOptions{
		ManifestPath: fx.manifest, OutDir: fx.out, Alpha: &alpha,
	}); err == nil {
		t.Error("expected error for alpha > 1")
	}
}

func TestLoadArtifacts_Errors(t *testing.T) {
	if _, err := LoadArtifacts(filepath.Join(t.TempDir(), "nothing")); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing dir: %v", err)
	}
	if _, err := LoadArtifacts(t.TempDir()); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("empty dir: %v", err)
	}

	fx := newFixture(t)
	if _, err := NewBuilder(embedding.NewMockProvider(4)).Build(context.Background(), BuildOptions{ManifestPath: fx.manifest, OutDir: fx.out}); err != nil {
		t.Fatal(err)
	}
	metaPath := filepath.Join(fx.out, MetadataFile)
	items, err := catalog.ReadMetadata(metaPath)
	if err != nil {
		t.Fatal(err)
	}
	items[0], items[1] = items[1], items[0]
	if err := catalog.WriteMetadata(metaPath, items); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadArtifacts(fx.out); !errors.Is(err, ErrArtifactMismatch) {
		t.Errorf("swapped rows: %v, want ErrArtifactMismatch", err)
	}

	if err := catalog.WriteMetadata(metaPath, items[:2]); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadArtifacts(fx.out); !errors.Is(err, ErrArtifactMismatch) {
		t.Errorf("short metadata: %v, want ErrArtifactMismatch", err)
	}

	if err := os.Remove(metaPath); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadArtifacts(fx.out); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing metadata: %v, want ErrIndexNotFound", err)
	}
}

func TestAtomicSwap(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")
	for _, d := range []string{src, dest} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	_ = os.WriteFile(filepath.Join(src, "new"), []byte("new"), 0644)
	_ = os.WriteFile(filepath.Join(dest, "old"), []byte("old"), 0644)

	if err := AtomicSwap(src, dest); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "new")); err != nil {
		t.Error("new content missing")
	}
	if _, err := os.Stat(filepath.Join(dest, "old")); !os.IsNotExist(err) {
		t.Error("old content still present")
	}
	if _, err := os.Stat(dest + ".bak"); !os.IsNotExist(err) {
		t.Error("backup not removed")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source dir still present")
	}
}

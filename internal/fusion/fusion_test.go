package fusion

import (
	"math"
	"testing"
)

func TestFuse_NoTextReturnsImageRows(t *testing.T) {
	img := [][]float32{{1, 0, 0}, {0, 0.6, 0.8}}
	out, err := Fuse(img, nil, DefaultAlpha)
	if err != nil {
		t.Fatal(err)
	}
	for i := range img {
		for j := range img[i] {
			if out[i][j] != img[i][j] {
				t.Fatalf("row %d changed: %v vs %v", i, out[i], img[i])
			}
		}
	}
	out[0][0] = 5
	if img[0][0] != 1 {
		t.Error("output must not alias input")
	}
}

func TestFuse_WeightedAndNormalized(t *testing.T) {
	img := [][]float32{{1, 0}, {0, 1}}
	txt := [][]float32{{0, 1}, {0, 1}}
	out, err := Fuse(img, txt, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range out {
		if n := math.Sqrt(float64(Dot(row, row))); math.Abs(n-1) > 1e-4 {
			t.Errorf("row %d norm = %v", i, n)
		}
	}
	// 0.7*(1,0) + 0.3*(0,1) normalized
	want := []float64{0.7 / math.Hypot(0.7, 0.3), 0.3 / math.Hypot(0.7, 0.3)}
	for j := range want {
		if math.Abs(float64(out[0][j])-want[j]) > 1e-6 {
			t.Errorf("out[0] = %v, want %v", out[0], want)
		}
	}
	// identical image and text rows stay put
	if math.Abs(float64(out[1][1])-1) > 1e-6 {
		t.Errorf("out[1] = %v", out[1])
	}
}

func TestFuse_Deterministic(t *testing.T) {
	img := [][]float32{{0.2, 0.4, 0.1, 0.9}}
	txt := [][]float32{{0.5, 0.1, 0.7, 0.3}}
	a, _ := Fuse(img, txt, 0.55)
	b, _ := Fuse(img, txt, 0.55)
	for j := range a[0] {
		if math.Float32bits(a[0][j]) != math.Float32bits(b[0][j]) {
			t.Fatalf("fusion not bit-identical: %v vs %v", a[0], b[0])
		}
	}
}

func TestFuse_ZeroSumStaysFinite(t *testing.T) {
	out, err := Fuse([][]float32{{1, 0}}, [][]float32{{-1, 0}}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range out[0] {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("non-finite value in %v", out[0])
		}
	}
}

func TestFuse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		img   [][]float32
		txt   [][]float32
		alpha float32
	}{
		{"alpha above one", [][]float32{{1}}, nil, 1.5},
		{"alpha below zero", [][]float32{{1}}, nil, -0.1},
		{"row count mismatch", [][]float32{{1}, {1}}, [][]float32{{1}}, 0.5},
		{"dimension mismatch", [][]float32{{1, 0}}, [][]float32{{1}}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Fuse(tt.img, tt.txt, tt.alpha); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	if d := Dot(v, v); math.Abs(float64(d)-1) > 1e-6 {
		t.Errorf("Dot(v, v) = %v", d)
	}
}

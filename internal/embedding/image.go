package embedding

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// PlaceholderSize is the side length of the image substituted for undecodable files.
const PlaceholderSize = 224

// CLIP image normalization constants (RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// DecodeImageFile opens and decodes a JPEG, PNG, GIF or WebP file.
func DecodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Placeholder returns a 224×224 opaque black RGB image.
func Placeholder() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, PlaceholderSize, PlaceholderSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{A: 0xff}}, image.Point{}, draw.Src)
	return img
}

// Preprocess converts img into a CLIP input tensor: the short side is resized to size,
// the center size×size square is cropped, and channels are normalized with CLIP mean/std.
// The result is laid out CHW.
func Preprocess(img image.Image, size int) []float32 {
	if size <= 0 {
		size = PlaceholderSize
	}
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if w == 0 || h == 0 {
		return Preprocess(Placeholder(), size)
	}
	scaledW, scaledH := size, size
	if w < h {
		scaledH = (h*size + w/2) / w
	} else {
		scaledW = (w*size + h/2) / h
	}
	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, src, draw.Src, nil)

	x0 := (scaledW - size) / 2
	y0 := (scaledH - size) / 2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := scaled.PixOffset(x0+x, y0+y)
			px := scaled.Pix[off : off+3 : off+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				out[c*plane+y*size+x] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

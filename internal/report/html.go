package report

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"io"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/pkg/utils"
	"golang.org/x/image/draw"
)

//go:embed templates/report.html
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html"))

// ThumbSize bounds the longer side of embedded thumbnails.
const ThumbSize = 240

type htmlCard struct {
	Thumb   template.URL
	Name    string
	Details string
	Score   float64
}

type htmlSection struct {
	Title   string
	Thumb   template.URL
	Err     string
	Average float64
	Count   int
	Cards   []htmlCard
}

type htmlReport struct {
	*Report
	Sections []htmlSection
}

// WriteHTML renders r as one self-contained HTML document with images inlined as data URIs.
func WriteHTML(w io.Writer, r *Report) error {
	view := htmlReport{Report: r, Sections: make([]htmlSection, 0, len(r.Sections))}
	for _, s := range r.Sections {
		hs := htmlSection{
			Title:   s.Title,
			Thumb:   DataURI(s.Query),
			Err:     s.Err,
			Average: s.Average,
			Count:   s.Count,
		}
		for _, res := range s.Results {
			name := res.Item.Name
			if name == "" {
				name = res.Item.ID
			}
			details := res.Item.Details
			if utils.IsNullMarker(details) {
				details = ""
			}
			hs.Cards = append(hs.Cards, htmlCard{
				Thumb:   DataURI(res.Item.ImagePath),
				Name:    name,
				Details: utils.Truncate(details, 160),
				Score:   res.Score,
			})
		}
		view.Sections = append(view.Sections, hs)
	}
	if err := reportTemplate.Execute(w, view); err != nil {
		return fmt.Errorf("could not execute html template: %w", err)
	}
	return nil
}

// DataURI returns a JPEG thumbnail of the image at path as a data URI, or "" when the
// image cannot be read.
func DataURI(path string) template.URL {
	if path == "" {
		return ""
	}
	img, err := embedding.DecodeImageFile(path)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumbnail(img, ThumbSize), &jpeg.Options{Quality: 85}); err != nil {
		return ""
	}
	return template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
}

func thumbnail(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= max && h <= max {
		return img
	}
	if w >= h {
		h = h * max / w
		w = max
	} else {
		w = w * max / h
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

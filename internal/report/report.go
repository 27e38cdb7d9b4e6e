// Package report runs a batch of query images and renders the matches as HTML or XLSX.
package report

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hyperjump/ruiji/internal/aggregate"
	"github.com/hyperjump/ruiji/internal/models"
)

// Estimator answers one query with its aggregate. *search.Engine satisfies it.
type Estimator interface {
	Estimate(ctx context.Context, req *models.QueryRequest, field string) (*models.Estimate, error)
}

// Section is the outcome for one query image.
type Section struct {
	Query   string
	Title   string
	Results []*models.SearchResult
	Average float64
	Count   int
	// Err is set when the query failed; the section then has no results.
	Err string
}

// Report is a finished batch.
type Report struct {
	Title       string
	TopK        int
	Field       string
	GeneratedAt time.Time
	Sections    []Section
}

// Generate queries every image and returns one section per image, in input order.
// A failing image is recorded in its section; only context cancellation aborts the batch.
func Generate(ctx context.Context, est Estimator, images []string, topK int) (*Report, error) {
	r := &Report{
		Title:       "Predicted amount sold",
		TopK:        topK,
		Field:       aggregate.AmountSoldField,
		GeneratedAt: time.Now(),
		Sections:    make([]Section, 0, len(images)),
	}
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := Section{Query: img, Title: filepath.Base(img)}
		e, err := est.Estimate(ctx, &models.QueryRequest{ImagePath: img, TopK: topK}, r.Field)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.Err = err.Error()
		} else {
			s.Results = e.Results
			s.Average = e.Average
			s.Count = e.Count
		}
		r.Sections = append(r.Sections, s)
	}
	return r, nil
}

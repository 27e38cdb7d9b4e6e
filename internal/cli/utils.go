// Package cli formats ruiji command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/hyperjump/ruiji/internal/aggregate"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
)

// OutputFormat is the format for query output.
type OutputFormat string

const (
	// OutputJSON is a JSON array of results (default, machine readable).
	OutputJSON OutputFormat = "json"
	// OutputText is human-readable text.
	OutputText OutputFormat = "text"
	// OutputCompact is one line per result.
	OutputCompact OutputFormat = "compact"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputJSON, OutputText, OutputCompact:
		return f, nil
	case "":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (json, text, compact)", s)
	}
}

var (
	scoreColor = color.New(color.FgGreen).SprintFunc()
	idColor    = color.New(color.FgCyan, color.Bold).SprintFunc()
	dimColor   = color.New(color.Faint).SprintFunc()
)

// WriteResults writes query results to w in the given format.
func WriteResults(w io.Writer, results []*models.SearchResult, format OutputFormat) error {
	switch format {
	case OutputText:
		writeResultsText(w, results)
		return nil
	case OutputCompact:
		for i, r := range results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, r.Score, r.Item.ID, r.Item.ImagePath)
		}
		return nil
	default:
		if results == nil {
			results = []*models.SearchResult{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(results)
	}
}

func writeResultsText(w io.Writer, results []*models.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	fmt.Fprintf(w, "\nFound %d matches\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(w, "%2d. %s  %s", i+1, scoreColor(fmt.Sprintf("%.4f", r.Score)), idColor(r.Item.ID))
		if r.Item.Name != "" {
			fmt.Fprintf(w, "  %s", r.Item.Name)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "    %s\n", dimColor(r.Item.ImagePath))
		if !utils.IsNullMarker(r.Item.Details) {
			fmt.Fprintf(w, "    %s\n", utils.Truncate(r.Item.Details, 100))
		}
		if v, ok := r.Item.Field(aggregate.AmountSoldField); ok {
			fmt.Fprintf(w, "    amount_sold: %v\n", v)
		}
	}
	fmt.Fprintln(w)
}

// WriteEstimate writes an estimate. JSON includes the matches; text and compact print the
// average only, followed by the matches for text.
func WriteEstimate(w io.Writer, est *models.Estimate, format OutputFormat) error {
	switch format {
	case OutputText:
		fmt.Fprintf(w, "Average %s: %s (%d of %d matches counted)\n",
			est.Field, scoreColor(fmt.Sprintf("%.2f", est.Average)), est.Count, len(est.Results))
		writeResultsText(w, est.Results)
		return nil
	case OutputCompact:
		fmt.Fprintf(w, "%.2f\n", est.Average)
		return nil
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(est)
	}
}

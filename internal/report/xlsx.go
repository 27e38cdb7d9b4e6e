package report

import (
	"fmt"

	"github.com/hyperjump/ruiji/internal/aggregate"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	matchesSheet = "Matches"
)

// WriteXLSX writes r to a workbook at path: a summary row per query image and a detail row
// per match.
func WriteXLSX(path string, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(matchesSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	summaryHeader := []interface{}{"Query", "Matches", "Average " + r.Field, "Counted", "Error"}
	if err := f.SetSheetRow(summarySheet, "A1", &summaryHeader); err != nil {
		return err
	}
	matchHeader := []interface{}{"Query", "Rank", "ID", "Name", "Score", r.Field, "Image path"}
	if err := f.SetSheetRow(matchesSheet, "A1", &matchHeader); err != nil {
		return err
	}

	matchRow := 2
	for i, s := range r.Sections {
		row := []interface{}{s.Title, len(s.Results), s.Average, s.Count, s.Err}
		if err := f.SetSheetRow(summarySheet, cell(1, i+2), &row); err != nil {
			return err
		}
		for rank, res := range s.Results {
			var value interface{} = ""
			if v, ok := res.Item.Field(r.Field); ok {
				if n, ok := aggregate.Numeric(v); ok {
					value = n
				} else {
					value = fmt.Sprint(v)
				}
			}
			detail := []interface{}{s.Title, rank + 1, res.Item.ID, res.Item.Name, res.Score, value, res.Item.ImagePath}
			if err := f.SetSheetRow(matchesSheet, cell(1, matchRow), &detail); err != nil {
				return err
			}
			matchRow++
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 40); err != nil {
		return err
	}
	if err := f.SetColWidth(matchesSheet, "A", "D", 28); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

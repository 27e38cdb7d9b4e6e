// Package aggregate computes statistics over query results.
package aggregate

import (
	"encoding/json"
	"math"
	"reflect"

	"github.com/hyperjump/ruiji/internal/models"
)

// AmountSoldField is the field averaged for the expected-sales estimate.
const AmountSoldField = "amount_sold"

// Average returns the mean of field over results where it is present and numeric.
// Strings, booleans, NaN/Inf and missing values are skipped. With no qualifying result it returns 0.
func Average(field string, results []*models.SearchResult) float64 {
	var sum float64
	var n int
	for _, r := range results {
		if r == nil {
			continue
		}
		v, ok := r.Item.Field(field)
		if !ok {
			continue
		}
		f, ok := Numeric(v)
		if !ok {
			continue
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AverageAmountSold is Average over AmountSoldField.
func AverageAmountSold(results []*models.SearchResult) float64 {
	return Average(AmountSoldField, results)
}

// Count returns how many results carry a numeric value for field.
func Count(field string, results []*models.SearchResult) int {
	n := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if v, ok := r.Item.Field(field); ok {
			if _, ok := Numeric(v); ok {
				n++
			}
		}
	}
	return n
}

// Numeric converts Go numeric kinds and json.Number to float64.
func Numeric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil, bool, string:
		return 0, false
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		default:
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

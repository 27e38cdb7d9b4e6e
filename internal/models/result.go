package models

import "encoding/json"

// SearchResult is one ranked match: the similarity score merged with the matched item's fields.
type SearchResult struct {
	Score float64
	// Row is the matched row in the index and metadata table.
	Row  int
	Item Item
}

// MarshalJSON encodes the result as a flat object of item fields plus "score".
// The score always wins over an item field of the same name.
func (r *SearchResult) MarshalJSON() ([]byte, error) {
	m := r.Item.Fields()
	m["score"] = r.Score
	return json.Marshal(m)
}

// UnmarshalJSON decodes the flat form written by MarshalJSON.
func (r *SearchResult) UnmarshalJSON(data []byte) error {
	var score struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &score); err != nil {
		return err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	r.Score = score.Score
	r.Row = -1
	r.Item = item
	return nil
}

// Estimate is the aggregate of a numeric field over a query's matches.
type Estimate struct {
	Field   string          `json:"field"`
	Average float64         `json:"average"`
	Count   int             `json:"count"`
	Results []*SearchResult `json:"results"`
}

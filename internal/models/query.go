package models

import "fmt"

// DefaultTopK is the number of matches returned when a query does not ask for a count.
const DefaultTopK = 5

// QueryRequest asks for the catalog items most similar to a query image.
type QueryRequest struct {
	ImagePath string `json:"image_path"`
	// Text is optional; it is fused with the image vector when the index was built with text fusion.
	Text string `json:"text,omitempty"`
	TopK int    `json:"top_k,omitempty"`
}

// Validate checks the request and applies the default and maximum top-k.
// maxTopK <= 0 means no upper bound.
func (q *QueryRequest) Validate(maxTopK int) error {
	if q.ImagePath == "" {
		return fmt.Errorf("image_path cannot be empty")
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}

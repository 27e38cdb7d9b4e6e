// Package keyword provides a full-text lookup over catalog metadata.
package keyword

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// NameBoost multiplies matches in the product name. Values <= 1 mean no boost.
	NameBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordResult is a single keyword hit. Row is the metadata row the hit refers to.
type KeywordResult struct {
	Row   int
	ID    string
	Score float64
}

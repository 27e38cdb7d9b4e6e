package search

import "errors"

var (
	// ErrImageNotFound means the query image is missing or cannot be decoded.
	ErrImageNotFound = errors.New("query image not found")
	// ErrAsymmetricQuery is returned for an image-only query against a text-fused index
	// when symmetric fusion is required.
	ErrAsymmetricQuery = errors.New("index was built with text fusion but the query has no text")
	// ErrInvalidQuery wraps request validation failures.
	ErrInvalidQuery = errors.New("invalid query")
)

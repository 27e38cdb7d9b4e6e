package indexer

import "errors"

var (
	// ErrEmptyInput means the manifest had no entry whose image exists on disk.
	ErrEmptyInput = errors.New("no usable entries")
	// ErrIndexNotFound means the artifact directory or one of its files is missing.
	ErrIndexNotFound = errors.New("no index built yet")
	// ErrArtifactMismatch means the index and metadata table disagree on rows.
	ErrArtifactMismatch = errors.New("index and metadata do not match")
	// ErrBuildLocked means another build holds the output lock.
	ErrBuildLocked = errors.New("another build is writing this index")
)

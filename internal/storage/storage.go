// Package storage keeps the build and query history.
package storage

import (
	"context"
	"time"
)

// BuildRecord is one finished index build.
type BuildRecord struct {
	ID             string    `json:"id"`
	IndexDir       string    `json:"index_dir"`
	ModelID        string    `json:"model_id"`
	Count          int       `json:"count"`
	Skipped        int       `json:"skipped"`
	DecodeFailures int       `json:"decode_failures"`
	TextFused      bool      `json:"text_fused"`
	Alpha          float64   `json:"alpha"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueryRecord is one answered query.
type QueryRecord struct {
	ID        string    `json:"id"`
	IndexDir  string    `json:"index_dir"`
	ImagePath string    `json:"image_path"`
	TopK      int       `json:"top_k"`
	Average   float64   `json:"average"`
	ResultIDs []string  `json:"result_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// History persists build and query records.
type History interface {
	RecordBuild(ctx context.Context, rec *BuildRecord) error
	ListBuilds(ctx context.Context, limit int) ([]*BuildRecord, error)
	RecordQuery(ctx context.Context, rec *QueryRecord) error
	ListQueries(ctx context.Context, limit int) ([]*QueryRecord, error)
	CountQueries(ctx context.Context) (int64, error)
	Close() error
}

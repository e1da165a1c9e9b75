// Package metastore persists the face records that sit row-aligned with the
// vector index.
package metastore

import (
	"context"

	"github.com/tanmay3107/reverse-image-search/internal/faceindex"
)

// Store is the durable backend for face records. Save replaces the full
// record list (records are row-aligned, so partial writes are meaningless);
// Load returns the records in row order.
type Store interface {
	Save(ctx context.Context, records []faceindex.Record) error
	Load(ctx context.Context) ([]faceindex.Record, error)
	Close()
}

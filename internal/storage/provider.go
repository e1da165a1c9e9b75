// Package storage persists downloaded image bytes through pluggable blob
// store providers.
package storage

import "context"

// Provider writes a blob and returns its URI.
type Provider interface {
	Save(ctx context.Context, objectName string, data []byte) (string, error)
	Close() error
}

// NoOpProvider discards all blobs. Useful when image bytes only need to live
// long enough to be hashed and embedded.
type NoOpProvider struct{}

// Save discards the data and returns an empty URI.
func (*NoOpProvider) Save(_ context.Context, _ string, _ []byte) (string, error) {
	return "", nil
}

// Close is a no-op.
func (*NoOpProvider) Close() error { return nil }

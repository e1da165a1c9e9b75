package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSProvider writes blobs to a Google Cloud Storage bucket. Authentication
// uses Application Default Credentials.
type GCSProvider struct {
	client *gcs.Client
	bucket string
	logger *zap.Logger
}

// NewGCSProvider creates a GCS client and verifies the bucket is reachable,
// failing fast if the configuration is wrong.
func NewGCSProvider(ctx context.Context, bucket string, logger *zap.Logger) (*GCSProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucket, err)
	}
	return &GCSProvider{client: client, bucket: bucket, logger: logger}, nil
}

// Save uploads data to the bucket and returns a gs:// URI.
func (p *GCSProvider) Save(ctx context.Context, objectName string, data []byte) (string, error) {
	wc := p.client.Bucket(p.bucket).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			p.logger.Warn("failed to close GCS writer after write failure", zap.Error(closeErr))
		}
		return "", fmt.Errorf("write GCS object %s: %w", objectName, err)
	}
	// Close finalizes the upload; it flushes any buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for object %s: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", p.bucket, objectName), nil
}

// Close releases the GCS client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}

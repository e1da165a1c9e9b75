// Package embed calls the external face-model inference server that turns an
// image into a fixed-length identity embedding.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel conditions reported by the model server. These are outcomes of a
// well-formed request, distinct from transport failures.
var (
	// ErrNoFace means the model found no detectable face in the image.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces means single-face enforcement rejected the image.
	ErrMultipleFaces = errors.New("multiple faces detected")
)

// Extractor maps image bytes to an embedding vector, or fails.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// Config controls the inference client.
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	Dimension     int
	EnforceSingle bool
}

// Client is an HTTP Extractor for a Facenet-style inference server.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a Client for the configured endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embed.endpoint is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be > 0")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Faces     int       `json:"faces"`
	Error     string    `json:"error,omitempty"`
}

// Extract posts the image to the model server and returns its embedding.
// No-face and multi-face outcomes map to the package sentinels.
func (c *Client) Extract(ctx context.Context, image []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embed server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed server returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("embed server error: %s", parsed.Error)
	}
	if parsed.Faces == 0 || len(parsed.Embedding) == 0 {
		return nil, ErrNoFace
	}
	if c.cfg.EnforceSingle && parsed.Faces > 1 {
		return nil, ErrMultipleFaces
	}
	if len(parsed.Embedding) != c.cfg.Dimension {
		return nil, fmt.Errorf("embed server returned %d dims, expected %d", len(parsed.Embedding), c.cfg.Dimension)
	}
	return parsed.Embedding, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package publisher delivers crawl lifecycle events to downstream consumers.
package publisher

import (
	"context"
	"sync"
)

// Publisher sends a serialized event.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
	Close() error
}

// NoOpPublisher drops all events.
type NoOpPublisher struct{}

// Publish discards the event.
func (*NoOpPublisher) Publish(_ context.Context, _ []byte) error { return nil }

// Close is a no-op.
func (*NoOpPublisher) Close() error { return nil }

// MemoryPublisher buffers events in memory. Used in development and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends a copy of data to the buffer.
func (p *MemoryPublisher) Publish(_ context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, cp)
	return nil
}

// Messages returns a snapshot of everything published so far.
func (p *MemoryPublisher) Messages() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op.
func (p *MemoryPublisher) Close() error { return nil }

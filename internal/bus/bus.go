// Package bus carries content events from the HTTP event source to the
// notification worker.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"qqbridge/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a buffered channel of content events.
type InMemoryBus struct {
	events  chan domain.ContentEvent
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		events:  make(chan domain.ContentEvent, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to the publish timeout if the bus is full, then drops
// the event.
func (b *InMemoryBus) Publish(ev domain.ContentEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "type", ev.Type, "post_id", ev.Post.ID)
		return
	}

	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event bus full, waiting...", "type", ev.Type, "post_id", ev.Post.ID)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
			b.logger.Info("event delivered after wait", "type", ev.Type, "post_id", ev.Post.ID)
		case <-timer.C:
			b.logger.Error("event dropped: bus full", "type", ev.Type, "post_id", ev.Post.ID, "waited", b.timeout)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.ContentEvent {
	return b.events
}

// Close stops the bus. Subscribers drain what is buffered and then see the
// channel closed.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}

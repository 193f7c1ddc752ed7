package events

import (
	"context"
	"sync"

	"github.com/campushq/permit/pkg/observability"
)

// Bus is an in-process notifier for single-service deployments and tests.
// It fans out every published event to all registered handlers synchronously
// with respect to publish order, which preserves per-role ordering.
type Bus struct {
	logger   *observability.Logger
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewBus creates a new in-process event bus
func NewBus(logger *observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Bus{logger: logger}
}

// PublishRolePermissionsChanged delivers the event to every registered handler
func (b *Bus) PublishRolePermissionsChanged(ctx context.Context, event RolePermissionsChanged) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.logger.WithError(err).WithField("role", event.RoleName).Warn("Event handler failed")
		}
	}
	return nil
}

// Subscribe registers a handler for all subsequently published events
func (b *Bus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrSubscriberClosed
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

// Close drops all registered handlers
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}

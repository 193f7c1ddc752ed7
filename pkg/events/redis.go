package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/campushq/permit/pkg/observability"
)

// DefaultChannel is the redis pub/sub channel carrying role permission
// change events
const DefaultChannel = "permit:role-permissions-changed"

// RedisNotifier publishes and consumes role permission change events over a
// redis pub/sub channel. Redis pub/sub gives at-least-once semantics to
// connected subscribers; consumers rely on full-set events plus the cache's
// version guard for idempotence rather than on broker guarantees.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisNotifier creates a notifier on the given channel. An empty channel
// name selects DefaultChannel.
func NewRedisNotifier(client *redis.Client, channel string, logger *observability.Logger, metrics *observability.Metrics) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
		metrics: metrics,
	}
}

// PublishRolePermissionsChanged publishes the event as JSON
func (n *RedisNotifier) PublishRolePermissionsChanged(ctx context.Context, event RolePermissionsChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if n.metrics != nil {
		n.metrics.EventsPublishedTotal.Inc()
	}
	return nil
}

// Subscribe starts a background consumer that delivers events to the handler
// until the context is canceled or Close is called. Malformed payloads are
// logged and skipped; they never crash the subscriber.
func (n *RedisNotifier) Subscribe(ctx context.Context, handler Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pubsub != nil {
		return fmt.Errorf("already subscribed to %s", n.channel)
	}

	pubsub := n.client.Subscribe(ctx, n.channel)

	// Confirm the subscription before returning so callers can rely on
	// events published afterwards being delivered
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	n.pubsub = pubsub
	n.done = make(chan struct{})

	go n.consume(ctx, pubsub, handler)
	return nil
}

func (n *RedisNotifier) consume(ctx context.Context, pubsub *redis.PubSub, handler Handler) {
	defer close(n.done)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event RolePermissionsChanged
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				n.logger.WithError(err).Warn("Discarding malformed change event")
				if n.metrics != nil {
					n.metrics.EventsDiscardedTotal.WithLabelValues("malformed").Inc()
				}
				continue
			}
			if event.RoleName == "" {
				n.logger.WithField("event_id", event.ID).Warn("Discarding change event without role name")
				if n.metrics != nil {
					n.metrics.EventsDiscardedTotal.WithLabelValues("malformed").Inc()
				}
				continue
			}

			if err := handler(ctx, event); err != nil {
				n.logger.WithError(err).WithField("role", event.RoleName).Warn("Event handler failed")
			}
		}
	}
}

// Close stops the consumer and releases the pub/sub connection
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	pubsub := n.pubsub
	done := n.done
	n.pubsub = nil
	n.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	if done != nil {
		<-done
	}
	return err
}

package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisNotifierRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	notifier := NewRedisNotifier(client, "", nil, nil)
	received := make(chan RolePermissionsChanged, 1)
	if err := notifier.Subscribe(ctx, func(ctx context.Context, e RolePermissionsChanged) error {
		received <- e
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer notifier.Close()

	sent := NewRolePermissionsChanged("instructor", []string{"Course.Read", "Course.Grade"}, 3)
	if err := notifier.PublishRolePermissionsChanged(ctx, sent); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != sent.ID {
			t.Errorf("event ID mismatch: sent %s, got %s", sent.ID, got.ID)
		}
		if got.RoleName != "instructor" || got.Sequence != 3 {
			t.Errorf("unexpected event %+v", got)
		}
		if len(got.Permissions) != 2 {
			t.Errorf("expected full permission set, got %v", got.Permissions)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisNotifierSkipsMalformedPayloads(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	notifier := NewRedisNotifier(client, "", nil, nil)
	received := make(chan RolePermissionsChanged, 1)
	if err := notifier.Subscribe(ctx, func(ctx context.Context, e RolePermissionsChanged) error {
		received <- e
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	defer notifier.Close()

	// Garbage, then a JSON object missing the role name, then a real event.
	// Only the real event may reach the handler.
	if err := client.Publish(ctx, DefaultChannel, "not json").Err(); err != nil {
		t.Fatal(err)
	}
	if err := client.Publish(ctx, DefaultChannel, `{"permissions":["Course.Read"]}`).Err(); err != nil {
		t.Fatal(err)
	}
	sent := NewRolePermissionsChanged("student", []string{"Course.Read"}, 1)
	if err := notifier.PublishRolePermissionsChanged(ctx, sent); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got.RoleName != "student" {
			t.Errorf("expected the well-formed event, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case extra := <-received:
		t.Errorf("malformed payload reached the handler: %+v", extra)
	default:
	}
}

func TestRedisNotifierDoubleSubscribe(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	notifier := NewRedisNotifier(client, "", nil, nil)
	handler := func(ctx context.Context, e RolePermissionsChanged) error { return nil }
	if err := notifier.Subscribe(ctx, handler); err != nil {
		t.Fatal(err)
	}
	defer notifier.Close()

	if err := notifier.Subscribe(ctx, handler); err == nil {
		t.Error("expected error on second subscribe")
	}
}

func TestRedisNotifierCloseIdempotent(t *testing.T) {
	client := newTestRedis(t)

	notifier := NewRedisNotifier(client, "", nil, nil)
	if err := notifier.Subscribe(context.Background(), func(ctx context.Context, e RolePermissionsChanged) error {
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := notifier.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := notifier.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

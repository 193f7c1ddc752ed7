package observability

import (
	"bytes"
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestNewShutdownManagerDefaults(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	sm := NewShutdownManager(logger, nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", sm.shutdownTimeout)
	}

	sm = NewShutdownManager(logger, nil, 10*time.Second)
	if sm.shutdownTimeout != 10*time.Second {
		t.Errorf("expected 10s, got %v", sm.shutdownTimeout)
	}
}

func TestShutdownRunsFuncsInRegistrationOrder(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, nil, time.Second)

	var order []string
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "second")
		return errors.New("second failed")
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "third")
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown() }()

	// Give WaitForShutdown time to install its signal handler
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		// The failing func's error surfaces but later funcs still ran
		if err == nil {
			t.Error("expected the registered failure to surface")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never completed")
	}

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("expected registration order, got %v", order)
	}
}

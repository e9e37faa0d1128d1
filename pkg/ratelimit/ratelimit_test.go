package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"roomdeck/pkg/models"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, limit, window), mr
}

func TestConsumeWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Consume(ctx, "client-1", 1); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
}

func TestConsumeExhausted(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	_, _ = l.Consume(ctx, "client-1", 2)
	retryAfter, err := l.Consume(ctx, "client-1", 1)
	if !errors.Is(err, models.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}
}

func TestWindowReset(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_, _ = l.Consume(ctx, "client-1", 1)
	if _, err := l.Consume(ctx, "client-1", 1); !errors.Is(err, models.ErrRateLimited) {
		t.Fatal("expected limit hit before window reset")
	}

	mr.FastForward(2 * time.Minute)

	if _, err := l.Consume(ctx, "client-1", 1); err != nil {
		t.Fatalf("expected fresh window, got %v", err)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_, _ = l.Consume(ctx, "client-1", 1)
	if _, err := l.Consume(ctx, "client-2", 1); err != nil {
		t.Fatalf("independent key should not be limited: %v", err)
	}
}

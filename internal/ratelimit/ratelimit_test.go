package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/testplan-go/remotepool/internal/ratelimit"
)

func TestAcquireBoundsConcurrency(t *testing.T) {
	l := ratelimit.New(1, 0)

	release1, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Error("second Acquire succeeded while slot held, want block until timeout")
	}

	release1()

	release2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release2()
}

func TestUnboundedWhenMaxConcurrentZero(t *testing.T) {
	l := ratelimit.New(0, 0)
	for i := 0; i < 5; i++ {
		release, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		defer release()
	}
}

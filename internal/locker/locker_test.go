package locker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	_ Locker = (*Local)(nil)
	_ Locker = (*Redis)(nil)
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal(5 * time.Second)

	var inside, maxInside int32
	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			release, err := l.Acquire(context.Background(), "c1")
			if err != nil {
				return err
			}
			defer release()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if maxInside != 1 {
		t.Fatalf("%d goroutines held the same key at once", maxInside)
	}
	if l.size() != 0 {
		t.Fatalf("idle keys must be dropped, %d left", l.size())
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire c1: %v", err)
	}
	defer release()

	other, err := l.Acquire(context.Background(), "c2")
	if err != nil {
		t.Fatalf("Acquire c2 must not wait for c1: %v", err)
	}
	other()
}

func TestLocalTimeout(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := l.Acquire(context.Background(), "c1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	release()
	release()

	again, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal(0)

	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}

package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoAndWait(t *testing.T) {
	got, err := Go(context.Background(), func(context.Context) (int, error) { return 42, nil }).Wait(context.Background())
	if err != nil || got != 42 {
		t.Fatalf("got %d,%v want 42,nil", got, err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	_, err := Go(context.Background(), func(context.Context) (int, error) { panic("boom") }).Wait(context.Background())
	if err == nil {
		t.Fatalf("expected error from panicking task")
	}
}

func TestThenSkipsOnError(t *testing.T) {
	sentinel := errors.New("first failed")
	var ran atomic.Bool
	next := Then(context.Background(), Failed[int](sentinel), func(context.Context, int) (string, error) {
		ran.Store(true)
		return "x", nil
	})
	if _, err := next.Wait(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("err=%v want sentinel", err)
	}
	if ran.Load() {
		t.Fatalf("continuation ran after a failed task")
	}
}

func TestThenTaskFlattens(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var innerDone atomic.Bool
	chained := ThenTask(ctx, Completed(2), func(ctx context.Context, v int) *Task[int] {
		return Go(ctx, func(context.Context) (int, error) {
			<-release
			innerDone.Store(true)
			return v * 10, nil
		})
	})
	select {
	case <-chained.Done():
		t.Fatalf("chained task finished before its inner task")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	got, err := chained.Wait(ctx)
	if err != nil || got != 20 {
		t.Fatalf("got %d,%v want 20,nil", got, err)
	}
	if !innerDone.Load() {
		t.Fatalf("chained result observed before inner work completed")
	}
}

func TestThenTaskOutlivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan struct{})
	chained := ThenTask(ctx, Completed(1), func(context.Context, int) *Task[int] {
		return Go(context.Background(), func(context.Context) (int, error) {
			close(started)
			<-release
			return 7, nil
		})
	})
	<-started
	cancel()
	select {
	case <-chained.Done():
		t.Fatalf("chained task gave up on a running inner task")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if got, err := chained.Wait(context.Background()); err != nil || got != 7 {
		t.Fatalf("got %d,%v want 7,nil", got, err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	tk := Go(context.Background(), func(context.Context) (int, error) {
		<-block
		return 0, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tk.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
}

// Package task runs blocking work in the background and lets callers chain on it.
//
// A continuation registered with Then or ThenTask starts only after the task it
// follows has finished; when the continuation itself returns a task, the chained
// task completes only after that inner task does.
package task

import (
	"context"
	"fmt"
)

type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

func (t *Task[T]) finish(v T, err error) {
	t.val, t.err = v, err
	close(t.done)
}

// Go starts fn on its own goroutine. A panic in fn becomes the task's error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T]()
	go func() {
		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
			t.finish(v, err)
		}()
		v, err = fn(ctx)
	}()
	return t
}

// Completed returns a finished task holding v.
func Completed[T any](v T) *Task[T] {
	t := newTask[T]()
	t.finish(v, nil)
	return t
}

// Failed returns a finished task holding err.
func Failed[T any](err error) *Task[T] {
	t := newTask[T]()
	var zero T
	t.finish(zero, err)
	return t
}

// Done is closed once the result is available.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done. Cancelling ctx here does
// not stop the task; cancel the context the task was started with for that.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then runs fn with t's result once t succeeds. An error from t skips fn.
func Then[T, U any](ctx context.Context, t *Task[T], fn func(ctx context.Context, v T) (U, error)) *Task[U] {
	return Go(ctx, func(ctx context.Context) (U, error) {
		v, err := t.Wait(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		if err := ctx.Err(); err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}

// ThenTask is Then for continuations that start their own task. The result
// completes when the inner task does, never earlier, even if ctx is cancelled
// meanwhile; the inner task sees the cancel through its own ctx.
func ThenTask[T, U any](ctx context.Context, t *Task[T], fn func(ctx context.Context, v T) *Task[U]) *Task[U] {
	return Then(ctx, t, func(ctx context.Context, v T) (U, error) {
		inner := fn(ctx, v)
		if inner == nil {
			var zero U
			return zero, fmt.Errorf("continuation returned no task")
		}
		<-inner.done
		return inner.val, inner.err
	})
}

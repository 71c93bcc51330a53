package methods

import "context"

// Task 一次异步操作的结果，完成后 Wait 立即返回
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go 在新的 goroutine 中执行 fn
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.value, t.err = fn(ctx)
	}()
	return t
}

// Resolved 已完成的任务
func Resolved[T any](value T, err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{}), value: value, err: err}
	close(t.done)
	return t
}

func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait 等待完成或 ctx 取消；ctx 取消不会中止任务本身
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

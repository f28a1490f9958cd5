package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var errPanic = errors.New("task panicked")

type invokeResult struct {
	value any
	err   error
}

// invoke runs fn once. A panic becomes an error. With a positive timeout the
// caller stops waiting once it expires and gets ErrTimeout; the task itself
// sees a canceled context and is left to return on its own.
func invoke(ctx context.Context, fn TaskFunc, input any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return call(ctx, fn, input)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		v, err := call(ctx, fn, input)
		done <- invokeResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, ctx.Err()
	}
}

func call(ctx context.Context, fn TaskFunc, input any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	return fn(ctx, input)
}

package workload

import (
	"context"
	"fmt"
	"time"

	"poolbench/internal/runner"
)

// Sleep simulates a task that only waits on an external resource.
type Sleep struct{}

func (Sleep) Name() string { return "sleep" }

func (Sleep) Task() runner.Task {
	return runner.Task{
		Name: "sleep",
		Run: func(ctx context.Context, input any) (any, error) {
			d, err := inputAs[time.Duration](input)
			if err != nil {
				return nil, err
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return d.Milliseconds(), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		Decode: decodeAs[time.Duration](),
	}
}

func (Sleep) Generate(count int, p Params) ([]any, error) {
	if p.Sleep < 0 {
		return nil, fmt.Errorf("sleep duration must be >= 0, got %s", p.Sleep)
	}
	return repeat(count, p.Sleep), nil
}

// Fail always returns an error. Useful to check failure accounting.
type Fail struct{}

func (Fail) Name() string { return "fail" }

func (Fail) Task() runner.Task {
	return runner.Task{
		Name: "fail",
		Run: func(_ context.Context, input any) (any, error) {
			return nil, fmt.Errorf("input %v: deliberate failure", input)
		},
		Decode: decodeAs[int](),
	}
}

func (Fail) Generate(count int, _ Params) ([]any, error) {
	out := make([]any, count)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

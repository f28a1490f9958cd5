package workload

import (
	"context"
	"fmt"
	"time"

	"poolbench/internal/runner"
)

// Fibonacci computes fib(n) recursively.
type Fibonacci struct{}

func (Fibonacci) Name() string { return "fib" }

func (Fibonacci) Task() runner.Task {
	return runner.Task{
		Name: "fib",
		Run: func(_ context.Context, input any) (any, error) {
			n, err := inputAs[int](input)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("fib of negative %d", n)
			}
			return fib(n), nil
		},
		Decode: decodeAs[int](),
	}
}

func (Fibonacci) Generate(count int, p Params) ([]any, error) {
	if p.FibN < 0 {
		return nil, fmt.Errorf("fib n must be >= 0, got %d", p.FibN)
	}
	return repeat(count, p.FibN), nil
}

func fib(n int) int {
	if n <= 1 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

// Prime tests random large integers for primality.
type Prime struct{}

func (Prime) Name() string { return "prime" }

func (Prime) Task() runner.Task {
	return runner.Task{
		Name: "prime",
		Run: func(_ context.Context, input any) (any, error) {
			n, err := inputAs[int64](input)
			if err != nil {
				return nil, err
			}
			return isPrime(n), nil
		},
		Decode: decodeAs[int64](),
	}
}

func (Prime) Generate(count int, p Params) ([]any, error) {
	if p.PrimeMin < 0 || p.PrimeMax < p.PrimeMin {
		return nil, fmt.Errorf("invalid prime range [%d, %d]", p.PrimeMin, p.PrimeMax)
	}
	span := p.PrimeMax - p.PrimeMin + 1
	if span <= 0 {
		return nil, fmt.Errorf("prime range [%d, %d] is too wide", p.PrimeMin, p.PrimeMax)
	}
	rng := newRand(p.Seed)
	out := make([]any, count)
	for i := range out {
		out[i] = p.PrimeMin + rng.Int63n(span)
	}
	return out, nil
}

// isPrime is 6k±1 trial division.
func isPrime(n int64) bool {
	if n < 2 {
		return false
	}
	if n == 2 || n == 3 {
		return true
	}
	if n%2 == 0 || n%3 == 0 {
		return false
	}
	for i := int64(5); i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

// Spin keeps a CPU busy for a fixed duration.
type Spin struct{}

func (Spin) Name() string { return "spin" }

func (Spin) Task() runner.Task {
	return runner.Task{
		Name: "spin",
		Run: func(ctx context.Context, input any) (any, error) {
			d, err := inputAs[time.Duration](input)
			if err != nil {
				return nil, err
			}
			deadline := time.Now().Add(d)
			var iterations uint64
			for time.Now().Before(deadline) {
				for i := 0; i < 1000; i++ {
					iterations++
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
			}
			return iterations, nil
		},
		Decode: decodeAs[time.Duration](),
	}
}

func (Spin) Generate(count int, p Params) ([]any, error) {
	if p.Sleep <= 0 {
		return nil, fmt.Errorf("spin duration must be positive, got %s", p.Sleep)
	}
	return repeat(count, p.Sleep), nil
}

// Package workload provides the task sources the harness can benchmark.
// Every generator is deterministic for a given seed.
package workload

import (
	"context"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"sort"
	"time"

	"poolbench/internal/runner"
)

// Params configures generation. Nothing here is shared between runs.
type Params struct {
	Seed int64
	// Dir receives on-disk fixtures and per-task outputs.
	Dir string

	FibN        int
	PrimeMin    int64
	PrimeMax    int64
	FileSize    int
	Sleep       time.Duration
	URLs        []string
	HTTPTimeout time.Duration
	ImageSize   int
}

// DefaultParams mirrors the sizes the comparison was designed around.
func DefaultParams() Params {
	return Params{
		FibN:        30,
		PrimeMin:    1_000_000_000_000,
		PrimeMax:    1_000_000_000_000_000,
		FileSize:    1 << 20,
		Sleep:       50 * time.Millisecond,
		HTTPTimeout: 10 * time.Second,
		ImageSize:   256,
	}
}

// Workload is a task source: a generator of inputs plus the task applied to
// each of them.
type Workload interface {
	Name() string
	Task() runner.Task
	Generate(count int, p Params) ([]any, error)
}

// Preparer is implemented by workloads that need fixtures on disk. The
// harness times Prepare separately from the pool run.
type Preparer interface {
	Prepare(ctx context.Context, p Params, inputs []any) error
}

// All returns every built-in workload.
func All() []Workload {
	return []Workload{
		Fibonacci{},
		Prime{},
		FileRead{},
		FileWrite{},
		HTTPFetch{},
		Image{},
		Sleep{},
		Spin{},
		Fail{},
	}
}

// Names lists the built-in workload names, sorted.
func Names() []string {
	all := All()
	names := make([]string, 0, len(all))
	for _, w := range all {
		names = append(names, w.Name())
	}
	sort.Strings(names)
	return names
}

// Lookup finds a built-in workload by name.
func Lookup(name string) (Workload, error) {
	for _, w := range All() {
		if w.Name() == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("unknown workload %q (known: %v)", name, Names())
}

// Tasks returns a registry holding the task of every built-in workload, for
// use by isolated worker processes.
func Tasks() *runner.Registry {
	reg := runner.NewRegistry()
	for _, w := range All() {
		reg.MustRegister(w.Task())
	}
	return reg
}

func newRand(seed int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed))
}

// decodeAs builds a Task decoder for a concrete input type.
func decodeAs[T any]() func(raw []byte) (any, error) {
	return func(raw []byte) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func inputAs[T any](input any) (T, error) {
	v, ok := input.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected input type %T, want %T", input, zero)
	}
	return v, nil
}

func repeat[T any](count int, v T) []any {
	out := make([]any, count)
	for i := range out {
		out[i] = v
	}
	return out
}

package runner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind names an execution strategy.
type Kind string

const (
	KindConcurrent Kind = "concurrent"
	KindIsolated   Kind = "isolated"
)

// ParseKinds resolves a strategy selection ("concurrent", "isolated" or "both").
func ParseKinds(s string) ([]Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindConcurrent):
		return []Kind{KindConcurrent}, nil
	case string(KindIsolated):
		return []Kind{KindIsolated}, nil
	case "both", "":
		return []Kind{KindConcurrent, KindIsolated}, nil
	default:
		return nil, configErrorf("unknown strategy %q (want concurrent, isolated or both)", s)
	}
}

// TaskFunc is applied to every input of a batch. It must not depend on
// state that cannot be rebuilt inside a worker process.
type TaskFunc func(ctx context.Context, input any) (any, error)

// Task is the unit of work shared by every input of a batch.
type Task struct {
	// Name is the registry key used by isolated workers.
	Name string
	Run  TaskFunc
	// Decode rebuilds an input from its JSON form inside a worker process.
	Decode func(raw []byte) (any, error)
}

// Batch is an immutable, homogeneous set of work items.
type Batch struct {
	Workload string
	Inputs   []any
	Task     Task
	// Repeat replays Inputs this many times (values < 1 mean once).
	Repeat int
}

// NewBatch validates and builds a batch.
func NewBatch(workload string, inputs []any, task Task, repeat int) (*Batch, error) {
	if len(inputs) == 0 {
		return nil, configErrorf("empty task batch")
	}
	if task.Run == nil {
		return nil, configErrorf("workload %q has no task function", workload)
	}
	if repeat < 1 {
		repeat = 1
	}
	return &Batch{
		Workload: workload,
		Inputs:   inputs,
		Task:     task,
		Repeat:   repeat,
	}, nil
}

// Len is the number of tasks the batch submits.
func (b *Batch) Len() int {
	r := b.Repeat
	if r < 1 {
		r = 1
	}
	return len(b.Inputs) * r
}

// Input returns the input of task i.
func (b *Batch) Input(i int) any {
	return b.Inputs[i%len(b.Inputs)]
}

// Outcome is the result of one task execution.
type Outcome struct {
	Index    int
	Result   any
	Err      error
	Started  time.Time
	Finished time.Time
	Worker   int
}

// OK reports whether the task succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Latency is the submission-independent service time of the task.
func (o Outcome) Latency() time.Duration {
	if o.Started.IsZero() || o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("task %d: %v", o.Index, o.Err)
	}
	return fmt.Sprintf("task %d: %v", o.Index, o.Result)
}

// Observer is notified as each outcome is collected. Calls are serialized.
type Observer interface {
	TaskDone(o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(o Outcome)

func (f ObserverFunc) TaskDone(o Outcome) { f(o) }

// Observers fans out to every non-nil observer.
type Observers []Observer

func (all Observers) TaskDone(o Outcome) {
	for _, obs := range all {
		if obs != nil {
			obs.TaskDone(o)
		}
	}
}

// Strategy runs every task of a batch on a bounded pool and returns one
// outcome per task in completion order. The pool is created and torn down
// inside Execute.
type Strategy interface {
	Kind() Kind
	Execute(ctx context.Context, b *Batch, workers int) ([]Outcome, error)
}

func validate(b *Batch, workers int) error {
	if b == nil || len(b.Inputs) == 0 {
		return configErrorf("empty task batch")
	}
	if b.Task.Run == nil {
		return configErrorf("workload %q has no task function", b.Workload)
	}
	if workers < 1 {
		return configErrorf("worker count must be >= 1, got %d", workers)
	}
	return nil
}

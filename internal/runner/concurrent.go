package runner

import (
	"context"
	"sync"
	"time"
)

// ConcurrentWorkers runs a batch on a bounded pool of goroutines sharing
// this process's memory.
type ConcurrentWorkers struct {
	// TaskTimeout bounds how long a worker waits for one task (0 = forever).
	TaskTimeout time.Duration
	// SharedLock makes every task hold one pool-wide lock while it runs,
	// the way a runtime with a single execution lock would.
	SharedLock bool
	Observer   Observer
}

func (c *ConcurrentWorkers) Kind() Kind { return KindConcurrent }

type job struct {
	index int
	input any
}

// Execute dispatches every task and blocks until each has an outcome.
// Outcomes are returned in completion order.
func (c *ConcurrentWorkers) Execute(ctx context.Context, b *Batch, workers int) ([]Outcome, error) {
	if err := validate(b, workers); err != nil {
		return nil, err
	}

	n := b.Len()
	jobs := make(chan job, n)
	for i := 0; i < n; i++ {
		jobs <- job{index: i, input: b.Input(i)}
	}
	close(jobs)

	if workers > n {
		workers = n
	}

	results := make(chan Outcome, n)
	var lock sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					now := time.Now()
					results <- Outcome{
						Index:    j.index,
						Err:      failure(j.index, FailureCanceled, err),
						Finished: now,
						Worker:   worker,
					}
					continue
				}

				if c.SharedLock {
					lock.Lock()
				}
				start := time.Now()
				v, err := invoke(ctx, b.Task.Run, j.input, c.TaskTimeout)
				end := time.Now()
				if c.SharedLock {
					lock.Unlock()
				}

				o := Outcome{
					Index:    j.index,
					Result:   v,
					Started:  start,
					Finished: end,
					Worker:   worker,
				}
				if err != nil {
					o.Result = nil
					o.Err = failure(j.index, classify(err), err)
				}
				results <- o
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, n)
	for o := range results {
		if c.Observer != nil {
			c.Observer.TaskDone(o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// Package report derives metrics records from a strategy run and renders
// them as key/value text or JSON.
package report

import (
	"errors"
	"fmt"
	"time"

	"poolbench/internal/runner"
	"poolbench/internal/stats"
)

// ErrDegenerateTiming is matched by DegenerateTimingError.
var ErrDegenerateTiming = errors.New("degenerate timing")

// DegenerateTimingError reports a run whose measured elapsed time was not
// positive, so no rate can be derived from it.
type DegenerateTimingError struct {
	Elapsed time.Duration
}

func (e *DegenerateTimingError) Error() string {
	return fmt.Sprintf("degenerate timing: elapsed %s is not positive", e.Elapsed)
}

func (e *DegenerateTimingError) Is(target error) bool {
	return target == ErrDegenerateTiming
}

// Record is the derived result of one (strategy, workload) run.
type Record struct {
	ID       string       `json:"id"`
	Workload string       `json:"workload"`
	Strategy runner.Kind  `json:"strategy"`
	Policy   stats.Policy `json:"sampling"`
	Workers  int          `json:"workers"`
	Seed     int64        `json:"seed"`

	Tasks     int `json:"tasks"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	Elapsed     time.Duration `json:"elapsed_ns"`
	Throughput  float64       `json:"throughput_per_sec"`
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryDelta int64         `json:"memory_delta_bytes"`
	// MeanLatency is nil when undefined for the sampling policy.
	MeanLatency *time.Duration `json:"mean_latency_ns"`
	P50Latency  time.Duration  `json:"p50_latency_ns"`
	P90Latency  time.Duration  `json:"p90_latency_ns"`
	P99Latency  time.Duration  `json:"p99_latency_ns"`
	MaxLatency  time.Duration  `json:"max_latency_ns"`

	// FixtureTime is spent preparing inputs on disk; never part of Elapsed.
	FixtureTime time.Duration `json:"fixture_ns,omitempty"`

	// Latencies in completion order, kept for the sparkline only.
	Latencies []time.Duration `json:"-"`

	// Error is set when the run was aborted.
	Error string `json:"error,omitempty"`
}

// Aborted reports whether this is a failure record.
func (r *Record) Aborted() bool {
	return r.Error != ""
}

// Derive computes the record of one run from its batch, the two resource
// snapshots and the collected outcomes.
func Derive(b *runner.Batch, pre, post stats.Snapshot, outcomes []runner.Outcome) (*Record, error) {
	elapsed := post.Taken.Sub(pre.Taken)
	if elapsed <= 0 {
		return nil, &DegenerateTimingError{Elapsed: elapsed}
	}

	n := b.Len()
	r := &Record{
		Workload:    b.Workload,
		Policy:      post.Policy,
		Tasks:       n,
		Elapsed:     elapsed,
		Throughput:  float64(n) / elapsed.Seconds(),
		MemoryDelta: int64(post.RSSBytes) - int64(pre.RSSBytes),
		Latencies:   make([]time.Duration, 0, len(outcomes)),
	}

	switch post.Policy {
	case stats.PolicyProcessDelta:
		r.CPUPercent = (post.CPUTime - pre.CPUTime).Seconds() / elapsed.Seconds() * 100
	case stats.PolicySystemInstant:
		r.CPUPercent = post.CPUPercent
	}

	hist := stats.NewSafeHistogram()
	var (
		sum   time.Duration
		timed int
	)
	for _, o := range outcomes {
		if o.OK() {
			r.Succeeded++
		} else {
			r.Failed++
		}
		if o.Started.IsZero() {
			continue
		}
		lat := o.Latency()
		sum += lat
		timed++
		hist.Record(lat)
		r.Latencies = append(r.Latencies, lat)
	}

	if timed > 0 {
		r.P50Latency = hist.Quantile(50)
		r.P90Latency = hist.Quantile(90)
		r.P99Latency = hist.Quantile(99)
		r.MaxLatency = hist.Max()
		// Mean latency is only defined under the process-delta policy and
		// when every task was timed.
		if post.Policy == stats.PolicyProcessDelta && timed == len(outcomes) {
			mean := sum / time.Duration(timed)
			r.MeanLatency = &mean
		}
	}

	return r, nil
}

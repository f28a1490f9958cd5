package harness

import (
	"fmt"
	"time"

	"poolbench/internal/runner"
	"poolbench/internal/stats"
	"poolbench/internal/workload"
)

// Config is one invocation's worth of runs: every workload under every
// strategy.
type Config struct {
	Workloads  []string
	Tasks      int
	Workers    int
	Repeat     int
	Strategies []runner.Kind
	Policy     stats.Policy
	// SampleInterval bounds the system-wide CPU read.
	SampleInterval time.Duration
	TaskTimeout    time.Duration
	SharedLock     bool
	Params         workload.Params

	// WorkerCommand overrides the isolated worker argv.
	WorkerCommand []string
	WorkerEnv     []string
}

// Validate rejects configurations before any pool is constructed.
func (c Config) Validate() error {
	if len(c.Workloads) == 0 {
		return fmt.Errorf("%w: no workload selected", runner.ErrConfiguration)
	}
	for _, name := range c.Workloads {
		if _, err := workload.Lookup(name); err != nil {
			return fmt.Errorf("%w: %v", runner.ErrConfiguration, err)
		}
	}
	if c.Tasks < 1 {
		return fmt.Errorf("%w: task count must be >= 1, got %d", runner.ErrConfiguration, c.Tasks)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: worker count must be >= 1, got %d", runner.ErrConfiguration, c.Workers)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("%w: no strategy selected", runner.ErrConfiguration)
	}
	if _, err := stats.ParsePolicy(string(c.Policy)); err != nil {
		return fmt.Errorf("%w: %v", runner.ErrConfiguration, err)
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("%w: task timeout must be >= 0", runner.ErrConfiguration)
	}
	return nil
}

package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolbench/internal/report"
	"poolbench/internal/runner"
	"poolbench/internal/stats"
	"poolbench/internal/workload"
)

func TestMain(m *testing.M) {
	if os.Getenv(runner.WorkerEnv) == "1" {
		if err := runner.ServeWorker(context.Background(), workload.Tasks(), os.Stdin, os.Stdout); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() Config {
	p := workload.DefaultParams()
	p.Seed = 11
	p.FibN = 12
	p.FileSize = 1024
	p.Sleep = 5 * time.Millisecond
	return Config{
		Workloads:     []string{"fib"},
		Tasks:         6,
		Workers:       2,
		Strategies:    []runner.Kind{runner.KindConcurrent, runner.KindIsolated},
		Policy:        stats.PolicyProcessDelta,
		Params:        p,
		WorkerCommand: []string{os.Args[0]},
	}
}

type recordingHook struct {
	mu       sync.Mutex
	outcomes map[runner.Kind]int
	records  []*report.Record
}

func (h *recordingHook) Observer(kind runner.Kind, _ string) runner.Observer {
	return runner.ObserverFunc(func(runner.Outcome) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.outcomes == nil {
			h.outcomes = make(map[runner.Kind]int)
		}
		h.outcomes[kind]++
	})
}

func (h *recordingHook) RunFinished(r *report.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tasks", func(c *Config) { c.Tasks = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"no workloads", func(c *Config) { c.Workloads = nil }},
		{"unknown workload", func(c *Config) { c.Workloads = []string{"nope"} }},
		{"no strategies", func(c *Config) { c.Strategies = nil }},
		{"bad policy", func(c *Config) { c.Policy = "mean" }},
		{"negative timeout", func(c *Config) { c.TaskTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), runner.ErrConfiguration)

			_, err := New(cfg, discard())
			assert.ErrorIs(t, err, runner.ErrConfiguration)
		})
	}
	assert.NoError(t, baseConfig().Validate())
}

func TestRunAll_BothStrategies(t *testing.T) {
	hook := &recordingHook{}
	updates := make(UpdateChan, 64)
	h, err := New(baseConfig(), discard(), WithHook(hook), WithUpdates(updates))
	require.NoError(t, err)

	records, err := h.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	for i, kind := range []runner.Kind{runner.KindConcurrent, runner.KindIsolated} {
		r := records[i]
		assert.False(t, r.Aborted(), r.Error)
		assert.Equal(t, kind, r.Strategy)
		assert.Equal(t, "fib", r.Workload)
		assert.Equal(t, 6, r.Tasks)
		assert.Equal(t, 6, r.Succeeded)
		assert.Equal(t, 2, r.Workers)
		assert.EqualValues(t, 11, r.Seed)
		assert.NotEmpty(t, r.ID)
		assert.Positive(t, r.Elapsed)
		assert.InDelta(t, 6/r.Elapsed.Seconds(), r.Throughput, 1e-6)
		assert.NotNil(t, r.MeanLatency)
	}
	assert.NotEqual(t, records[0].ID, records[1].ID)

	assert.Equal(t, 6, hook.outcomes[runner.KindConcurrent])
	assert.Equal(t, 6, hook.outcomes[runner.KindIsolated])
	assert.Len(t, hook.records, 2)

	var last Snapshot
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Equal(t, last.Total, last.Done)
}

func TestRunAll_FailingTasksDoNotAbort(t *testing.T) {
	cfg := baseConfig()
	cfg.Workloads = []string{"fail"}

	h, err := New(cfg, discard())
	require.NoError(t, err)

	records, err := h.RunAll(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		assert.False(t, r.Aborted())
		assert.Equal(t, 6, r.Failed)
		assert.Zero(t, r.Succeeded)
	}
}

func TestRun_PoolSetupFailureYieldsRecord(t *testing.T) {
	cfg := baseConfig()
	cfg.WorkerCommand = []string{"/nonexistent/poolbench"}

	hook := &recordingHook{}
	h, err := New(cfg, discard(), WithHook(hook))
	require.NoError(t, err)

	records, err := h.RunAll(context.Background())
	require.Error(t, err)
	require.Len(t, records, 2)

	assert.False(t, records[0].Aborted())
	assert.True(t, records[1].Aborted())
	assert.Contains(t, records[1].Error, "pool setup")
	assert.Equal(t, runner.KindIsolated, records[1].Strategy)
	assert.Len(t, hook.records, 2)
}

func TestRun_EmptyBatchNeverBuildsAPool(t *testing.T) {
	_, err := runner.NewBatch("fib", nil, workload.Fibonacci{}.Task(), 1)
	assert.True(t, errors.Is(err, runner.ErrConfiguration))
}

func TestRunWorkload_FixturesTimedSeparately(t *testing.T) {
	cfg := baseConfig()
	cfg.Workloads = []string{"file-read"}
	cfg.Strategies = []runner.Kind{runner.KindConcurrent}

	h, err := New(cfg, discard())
	require.NoError(t, err)

	records := h.RunWorkload(context.Background(), "file-read")
	require.Len(t, records, 1)
	r := records[0]
	require.False(t, r.Aborted(), r.Error)
	assert.Positive(t, r.FixtureTime)
	assert.Equal(t, 6, r.Succeeded)
}

func TestRunWorkload_GenerationFailureAbortsEveryStrategy(t *testing.T) {
	cfg := baseConfig()
	cfg.Workloads = []string{"http"}

	hook := &recordingHook{}
	h, err := New(cfg, discard(), WithHook(hook))
	require.NoError(t, err)

	records := h.RunWorkload(context.Background(), "http")
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.Aborted())
		assert.Contains(t, r.Error, "url")
	}
	assert.Equal(t, records, hook.records)
}

func TestRun_SystemInstantPolicy(t *testing.T) {
	cfg := baseConfig()
	cfg.Policy = stats.PolicySystemInstant
	cfg.SampleInterval = 50 * time.Millisecond
	cfg.Strategies = []runner.Kind{runner.KindConcurrent}

	h, err := New(cfg, discard())
	require.NoError(t, err)

	records, err := h.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].MeanLatency)
	assert.Equal(t, stats.PolicySystemInstant, records[0].Policy)
}

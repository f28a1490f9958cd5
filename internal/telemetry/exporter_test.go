package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolbench/internal/report"
	"poolbench/internal/runner"
)

func TestExporter_Observer(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter(reg)
	require.NoError(t, err)

	obs := e.Observer(runner.KindConcurrent, "fib")
	start := time.Now()
	obs.TaskDone(runner.Outcome{Index: 0, Started: start, Finished: start.Add(10 * time.Millisecond)})
	obs.TaskDone(runner.Outcome{Index: 1, Started: start, Finished: start.Add(20 * time.Millisecond)})
	obs.TaskDone(runner.Outcome{Index: 2, Err: &runner.TaskFailure{Index: 2, Kind: runner.FailureTimeout, Err: runner.ErrTimeout}})
	obs.TaskDone(runner.Outcome{Index: 3, Err: errors.New("plain")})

	assert.Equal(t, 2.0, testutil.ToFloat64(e.taskOutcomesTotal.WithLabelValues("concurrent", "fib", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.taskOutcomesTotal.WithLabelValues("concurrent", "fib", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.taskOutcomesTotal.WithLabelValues("concurrent", "fib", "task")))
	assert.Equal(t, 1, testutil.CollectAndCount(e.taskDurationSeconds))
}

func TestExporter_RunFinished(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter(reg)
	require.NoError(t, err)

	e.RunFinished(&report.Record{Workload: "sleep", Strategy: runner.KindIsolated, Elapsed: 2 * time.Second, Throughput: 5})
	e.RunFinished(&report.Record{Workload: "sleep", Strategy: runner.KindIsolated, Error: "boom"})

	assert.Equal(t, 2.0, testutil.ToFloat64(e.runElapsedSeconds.WithLabelValues("isolated", "sleep")))
	assert.Equal(t, 5.0, testutil.ToFloat64(e.runThroughput.WithLabelValues("isolated", "sleep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.runsAbortedTotal.WithLabelValues("isolated", "sleep")))
}

func TestNewExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter(reg)
	require.NoError(t, err)
	second, err := NewExporter(reg)
	require.NoError(t, err)

	first.RunFinished(&report.Record{Workload: "fib", Strategy: runner.KindConcurrent, Error: "x"})
	second.RunFinished(&report.Record{Workload: "fib", Strategy: runner.KindConcurrent, Error: "y"})

	got := testutil.ToFloat64(first.runsAbortedTotal.WithLabelValues("concurrent", "fib"))
	assert.Equal(t, 2.0, got)
}

func TestServe(t *testing.T) {
	reg := prom.NewRegistry()
	e, err := NewExporter(reg)
	require.NoError(t, err)
	e.Observer(runner.KindConcurrent, "fib").TaskDone(runner.Outcome{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Serve(ctx, "127.0.0.1:0", reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "poolbench_task_outcomes_total")
}

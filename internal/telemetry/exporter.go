// Package telemetry exports per-task and per-run measurements as
// Prometheus collectors.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poolbench/internal/report"
	"poolbench/internal/runner"
)

const namespace = "poolbench"

// Exporter implements harness.Hook.
type Exporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskOutcomesTotal   *prom.CounterVec
	runElapsedSeconds   *prom.GaugeVec
	runThroughput       *prom.GaugeVec
	runsAbortedTotal    *prom.CounterVec
}

// NewExporter creates and registers the collectors on reg. Registering twice
// on one registry reuses the existing collectors.
func NewExporter(reg prom.Registerer) (*Exporter, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task service time in seconds.",
		Buckets:   prom.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"strategy", "workload"})
	outcomesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_outcomes_total",
		Help:      "Finished tasks by outcome.",
	}, []string{"strategy", "workload", "status"})
	elapsedVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "run_elapsed_seconds",
		Help:      "Wall-clock time of the last completed run.",
	}, []string{"strategy", "workload"})
	throughputVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "run_throughput_tasks_per_second",
		Help:      "Throughput of the last completed run.",
	}, []string{"strategy", "workload"})
	abortedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "runs_aborted_total",
		Help:      "Runs that produced a failure record.",
	}, []string{"strategy", "workload"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if outcomesVec, err = registerCollector(reg, outcomesVec); err != nil {
		return nil, err
	}
	if elapsedVec, err = registerCollector(reg, elapsedVec); err != nil {
		return nil, err
	}
	if throughputVec, err = registerCollector(reg, throughputVec); err != nil {
		return nil, err
	}
	if abortedVec, err = registerCollector(reg, abortedVec); err != nil {
		return nil, err
	}

	return &Exporter{
		taskDurationSeconds: durationVec,
		taskOutcomesTotal:   outcomesVec,
		runElapsedSeconds:   elapsedVec,
		runThroughput:       throughputVec,
		runsAbortedTotal:    abortedVec,
	}, nil
}

// Observer counts every outcome of one (strategy, workload) run.
func (e *Exporter) Observer(kind runner.Kind, workload string) runner.Observer {
	strategy := normalizeLabel(string(kind), "unknown")
	workload = normalizeLabel(workload, "unknown")
	duration := e.taskDurationSeconds.WithLabelValues(strategy, workload)

	return runner.ObserverFunc(func(o runner.Outcome) {
		e.taskOutcomesTotal.WithLabelValues(strategy, workload, statusLabel(o)).Inc()
		if !o.Started.IsZero() {
			duration.Observe(o.Latency().Seconds())
		}
	})
}

func (e *Exporter) RunFinished(r *report.Record) {
	strategy := normalizeLabel(string(r.Strategy), "unknown")
	workload := normalizeLabel(r.Workload, "unknown")
	if r.Aborted() {
		e.runsAbortedTotal.WithLabelValues(strategy, workload).Inc()
		return
	}
	e.runElapsedSeconds.WithLabelValues(strategy, workload).Set(r.Elapsed.Seconds())
	e.runThroughput.WithLabelValues(strategy, workload).Set(r.Throughput)
}

func statusLabel(o runner.Outcome) string {
	if o.OK() {
		return "ok"
	}
	var tf *runner.TaskFailure
	if errors.As(o.Err, &tf) {
		return string(tf.Kind)
	}
	return string(runner.FailureTask)
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

// Serve exposes g on addr under /metrics until ctx is done. It returns the
// bound address once listening.
func Serve(ctx context.Context, addr string, g prom.Gatherer, logger *slog.Logger) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return ln.Addr().String(), nil
}

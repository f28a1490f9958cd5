// Package cli drives a headless benchmark invocation: it runs the harness,
// shows progress on stderr and prints records on stdout.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	prom "github.com/prometheus/client_golang/prometheus"

	"poolbench/internal/harness"
	"poolbench/internal/report"
	"poolbench/internal/runner"
	"poolbench/internal/storage"
	"poolbench/internal/telemetry"
)

// Options control output and side services.
type Options struct {
	JSON      bool
	Sparkline bool
	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string
	// StoreDir holds the session database; empty means the temp dir.
	StoreDir string
	Quiet    bool

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(o.Stderr, nil))
	}
}

// recordSink forwards finished records to the monitor loop.
type recordSink chan *report.Record

func (s recordSink) Observer(runner.Kind, string) runner.Observer { return nil }
func (s recordSink) RunFinished(r *report.Record)                 { s <- r }

// Start runs every configured (workload, strategy) pair and returns the
// process exit code: 1 if any run was aborted.
func Start(ctx context.Context, cfg harness.Config, opts Options) int {
	opts.defaults()
	logger := opts.Logger

	if !opts.Quiet {
		printHeader(opts.Stderr, cfg)
	}

	store, err := storage.NewStore(opts.StoreDir)
	if err != nil {
		logger.Error("session store unavailable", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("session store cleanup failed", slog.String("error", err.Error()))
		}
	}()

	reg := prom.NewRegistry()
	exporter, err := telemetry.NewExporter(reg)
	if err != nil {
		logger.Error("metrics setup failed", slog.String("error", err.Error()))
		return 1
	}
	if opts.MetricsAddr != "" {
		addr, err := telemetry.Serve(ctx, opts.MetricsAddr, reg, logger)
		if err != nil {
			logger.Error("metrics endpoint failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("metrics endpoint listening", slog.String("addr", "http://"+addr+"/metrics"))
	}

	updates := make(harness.UpdateChan, 100)
	finished := make(recordSink, len(cfg.Workloads)*len(cfg.Strategies))

	h, err := harness.New(cfg, logger,
		harness.WithHook(exporter),
		harness.WithHook(finished),
		harness.WithUpdates(updates),
	)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.RunAll(ctx)
		done <- err
	}()

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
	m := monitor{opts: opts, store: store, bar: bar}

	var runErr error
loop:
	for {
		select {
		case snap := <-updates:
			if !opts.Quiet {
				m.progress(snap)
			}
		case r := <-finished:
			m.record(r)
		case runErr = <-done:
			break loop
		}
	}
	// Drain records the harness finished before signalling done.
	for {
		select {
		case r := <-finished:
			m.record(r)
			continue
		default:
		}
		break
	}
	m.clearLine()

	if m.failed > 0 || runErr != nil {
		m.aborted = true
	}

	records, err := store.List()
	if err != nil {
		logger.Error("read session store", slog.String("error", err.Error()))
		return 1
	}

	if opts.JSON {
		if err := report.WriteJSON(opts.Stdout, records); err != nil {
			logger.Error("write json", slog.String("error", err.Error()))
			return 1
		}
	} else if err := report.WriteComparison(opts.Stdout, report.Compare(records)); err != nil {
		logger.Error("write comparison", slog.String("error", err.Error()))
		return 1
	}

	if m.aborted {
		return 1
	}
	return 0
}

type monitor struct {
	opts     Options
	store    *storage.Store
	bar      progress.Model
	lineOpen bool
	failed   int
	aborted  bool
}

func (m *monitor) progress(s harness.Snapshot) {
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Done) / float64(s.Total)
	}
	if pct > 1.0 {
		pct = 1.0
	}
	fmt.Fprintf(m.opts.Stderr, "\r%-12s %-10s %s %3.0f%% | %d/%d | OK: %d | Err: %d | %s ",
		s.Workload, s.Strategy,
		m.bar.ViewAs(pct), pct*100,
		s.Done, s.Total,
		s.Succeeded, s.Failed,
		s.Elapsed.Round(10*time.Millisecond),
	)
	m.lineOpen = true
}

func (m *monitor) clearLine() {
	if m.lineOpen {
		fmt.Fprint(m.opts.Stderr, "\r"+strings.Repeat(" ", 100)+"\r")
		m.lineOpen = false
	}
}

func (m *monitor) record(r *report.Record) {
	m.clearLine()
	if r.Aborted() {
		m.failed++
	}
	if err := m.store.Save(r); err != nil {
		m.opts.Logger.Error("save record", slog.String("id", r.ID), slog.String("error", err.Error()))
		m.aborted = true
	}
	if m.opts.JSON {
		return
	}
	report.Write(m.opts.Stdout, r, report.Options{Sparkline: m.opts.Sparkline})
}

func printHeader(w io.Writer, cfg harness.Config) {
	kinds := make([]string, len(cfg.Strategies))
	for i, k := range cfg.Strategies {
		kinds[i] = string(k)
	}
	timeout := "none"
	if cfg.TaskTimeout > 0 {
		timeout = cfg.TaskTimeout.String()
	}

	fmt.Fprintf(w, "\nSTARTING POOLBENCH\n")
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Workloads  : %s\n", strings.Join(cfg.Workloads, ", "))
	fmt.Fprintf(w, "Strategies : %s\n", strings.Join(kinds, ", "))
	fmt.Fprintf(w, "Tasks      : %d x %d\n", cfg.Tasks, max(cfg.Repeat, 1))
	fmt.Fprintf(w, "Workers    : %d\n", cfg.Workers)
	fmt.Fprintf(w, "Sampling   : %s\n", cfg.Policy)
	fmt.Fprintf(w, "Seed       : %d\n", cfg.Params.Seed)
	fmt.Fprintf(w, "Timeout    : %s\n", timeout)
	fmt.Fprintf(w, "======================================================================\n\n")
}

// Package harness runs task batches under each execution strategy and turns
// every run into a metrics record.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"poolbench/internal/report"
	"poolbench/internal/runner"
	"poolbench/internal/stats"
	"poolbench/internal/workload"
)

// Snapshot is pushed on the updates channel while a run is in flight.
type Snapshot struct {
	Workload  string
	Strategy  runner.Kind
	Total     uint64
	Done      uint64
	Succeeded uint64
	Failed    uint64
	Elapsed   time.Duration
	P99       time.Duration
}

// UpdateChan carries progress snapshots.
type UpdateChan chan Snapshot

// Hook observes runs, e.g. to export metrics.
type Hook interface {
	Observer(kind runner.Kind, workload string) runner.Observer
	RunFinished(r *report.Record)
}

// Harness owns no state across runs besides its configuration.
type Harness struct {
	cfg      Config
	logger   *slog.Logger
	registry *runner.Registry
	hooks    []Hook

	// Updates receives progress snapshots; sends never block.
	Updates UpdateChan
}

// Option customises a Harness.
type Option func(*Harness)

func WithHook(h Hook) Option {
	return func(hs *Harness) { hs.hooks = append(hs.hooks, h) }
}

func WithUpdates(ch UpdateChan) Option {
	return func(hs *Harness) { hs.Updates = ch }
}

// WithRegistry overrides the registry isolated workers resolve tasks from.
func WithRegistry(reg *runner.Registry) Option {
	return func(hs *Harness) { hs.registry = reg }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Harness{
		cfg:      cfg,
		logger:   logger,
		registry: workload.Tasks(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.Updates == nil {
		h.Updates = make(UpdateChan, 16)
	}
	return h, nil
}

// RunAll runs every configured workload under every configured strategy,
// sequentially, and returns one record per pair. Aborted runs yield failure
// records; the returned error joins every abort.
func (h *Harness) RunAll(ctx context.Context) ([]*report.Record, error) {
	var (
		records []*report.Record
		errs    []error
	)

	for _, name := range h.cfg.Workloads {
		recs := h.RunWorkload(ctx, name)
		for _, r := range recs {
			if r.Aborted() {
				errs = append(errs, fmt.Errorf("%s/%s: %s", r.Workload, r.Strategy, r.Error))
			}
		}
		records = append(records, recs...)
	}

	return records, errors.Join(errs...)
}

// RunWorkload generates one batch and runs it under each strategy.
func (h *Harness) RunWorkload(ctx context.Context, name string) []*report.Record {
	logger := h.logger.With(slog.String("workload", name))

	b, fixture, cleanup, err := h.prepare(ctx, name)
	defer cleanup()
	if err != nil {
		logger.ErrorContext(ctx, "batch preparation failed", slog.String("error", err.Error()))
		recs := make([]*report.Record, 0, len(h.cfg.Strategies))
		for _, kind := range h.cfg.Strategies {
			r := h.failed(name, kind, err)
			r.FixtureTime = fixture
			recs = append(recs, h.finish(r))
		}
		return recs
	}

	if fixture > 0 {
		logger.InfoContext(ctx, "fixtures prepared", slog.Duration("fixture_time", fixture))
	}

	recs := make([]*report.Record, 0, len(h.cfg.Strategies))
	for _, kind := range h.cfg.Strategies {
		r := h.Run(ctx, b, kind)
		r.FixtureTime = fixture
		recs = append(recs, r)
	}
	return recs
}

// prepare builds the batch for a workload, creating fixtures when needed.
// cleanup is always safe to call.
func (h *Harness) prepare(ctx context.Context, name string) (*runner.Batch, time.Duration, func(), error) {
	cleanup := func() {}

	w, err := workload.Lookup(name)
	if err != nil {
		return nil, 0, cleanup, fmt.Errorf("%w: %v", runner.ErrConfiguration, err)
	}

	params := h.cfg.Params
	_, needsDir := w.(workload.Preparer)
	if needsDir && params.Dir == "" {
		dir, err := os.MkdirTemp("", "poolbench-"+name+"-*")
		if err != nil {
			return nil, 0, cleanup, fmt.Errorf("create fixture dir: %w", err)
		}
		params.Dir = dir
		cleanup = func() { os.RemoveAll(dir) }
	}

	inputs, err := w.Generate(h.cfg.Tasks, params)
	if err != nil {
		return nil, 0, cleanup, fmt.Errorf("%w: generate %s: %v", runner.ErrConfiguration, name, err)
	}

	b, err := runner.NewBatch(name, inputs, w.Task(), h.cfg.Repeat)
	if err != nil {
		return nil, 0, cleanup, err
	}

	var fixture time.Duration
	if p, ok := w.(workload.Preparer); ok {
		start := time.Now()
		if err := p.Prepare(ctx, params, inputs); err != nil {
			return nil, time.Since(start), cleanup, fmt.Errorf("prepare fixtures: %w", err)
		}
		fixture = time.Since(start)
	}

	return b, fixture, cleanup, nil
}

// Run executes b under one strategy with a fresh pool and derives its
// record. It never returns nil.
func (h *Harness) Run(ctx context.Context, b *runner.Batch, kind runner.Kind) *report.Record {
	logger := h.logger.With(slog.String("workload", b.Workload), slog.String("strategy", string(kind)))

	live := stats.NewStats(b.Len())
	observers := runner.Observers{runner.ObserverFunc(func(o runner.Outcome) {
		live.Add(o.OK(), o.Latency())
	})}
	for _, hk := range h.hooks {
		observers = append(observers, hk.Observer(kind, b.Workload))
	}

	strategy, err := h.strategy(kind, observers, logger)
	if err != nil {
		return h.finish(h.failed(b.Workload, kind, err))
	}

	sampler, err := stats.NewSampler(ctx, h.cfg.Policy, h.cfg.SampleInterval)
	if err != nil {
		return h.finish(h.failed(b.Workload, kind, err))
	}

	logger.InfoContext(ctx, "run started",
		slog.Int("tasks", b.Len()),
		slog.Int("workers", h.cfg.Workers),
		slog.String("sampling", string(h.cfg.Policy)),
	)

	runCtx, stopTicks := context.WithCancel(ctx)
	started := time.Now()
	h.startTickLoop(runCtx, 200*time.Millisecond, b.Workload, kind, live, started)

	pre, err := sampler.Pre(ctx)
	if err != nil {
		stopTicks()
		return h.finish(h.failed(b.Workload, kind, err))
	}
	outcomes, execErr := strategy.Execute(ctx, b, h.cfg.Workers)
	post, sampleErr := sampler.Post(ctx)
	stopTicks()
	h.sendUpdate(b.Workload, kind, live, started)

	if execErr != nil {
		logger.ErrorContext(ctx, "run aborted", slog.String("error", execErr.Error()))
		return h.finish(h.failed(b.Workload, kind, execErr))
	}
	if sampleErr != nil {
		return h.finish(h.failed(b.Workload, kind, sampleErr))
	}
	if len(outcomes) != b.Len() {
		return h.finish(h.failed(b.Workload, kind,
			fmt.Errorf("collected %d outcomes for %d tasks", len(outcomes), b.Len())))
	}

	rec, err := report.Derive(b, pre, post, outcomes)
	if err != nil {
		logger.ErrorContext(ctx, "run aborted", slog.String("error", err.Error()))
		return h.finish(h.failed(b.Workload, kind, err))
	}
	rec.ID = newID()
	rec.Strategy = kind
	rec.Workers = h.cfg.Workers
	rec.Seed = h.cfg.Params.Seed

	logger.InfoContext(ctx, "run finished",
		slog.Duration("elapsed", rec.Elapsed),
		slog.Int("failed", rec.Failed),
	)
	return h.finish(rec)
}

func (h *Harness) strategy(kind runner.Kind, obs runner.Observer, logger *slog.Logger) (runner.Strategy, error) {
	switch kind {
	case runner.KindConcurrent:
		return &runner.ConcurrentWorkers{
			TaskTimeout: h.cfg.TaskTimeout,
			SharedLock:  h.cfg.SharedLock,
			Observer:    obs,
		}, nil
	case runner.KindIsolated:
		return &runner.IsolatedWorkers{
			Command:     h.cfg.WorkerCommand,
			Env:         h.cfg.WorkerEnv,
			Registry:    h.registry,
			TaskTimeout: h.cfg.TaskTimeout,
			Observer:    obs,
			Logger:      logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", runner.ErrConfiguration, kind)
	}
}

func (h *Harness) failed(workload string, kind runner.Kind, err error) *report.Record {
	return &report.Record{
		ID:       newID(),
		Workload: workload,
		Strategy: kind,
		Policy:   h.cfg.Policy,
		Workers:  h.cfg.Workers,
		Seed:     h.cfg.Params.Seed,
		Tasks:    h.cfg.Tasks * max(h.cfg.Repeat, 1),
		Error:    err.Error(),
	}
}

func (h *Harness) finish(r *report.Record) *report.Record {
	for _, hk := range h.hooks {
		hk.RunFinished(r)
	}
	return r
}

// startTickLoop pushes progress snapshots until ctx is done.
func (h *Harness) startTickLoop(ctx context.Context, interval time.Duration, name string, kind runner.Kind, s *stats.Stats, started time.Time) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sendUpdate(name, kind, s, started)
			}
		}
	}()
}

func (h *Harness) sendUpdate(name string, kind runner.Kind, s *stats.Stats, started time.Time) {
	snap := Snapshot{
		Workload:  name,
		Strategy:  kind,
		Total:     s.Total,
		Done:      atomic.LoadUint64(&s.Done),
		Succeeded: atomic.LoadUint64(&s.Succeeded),
		Failed:    atomic.LoadUint64(&s.Failed),
		Elapsed:   time.Since(started),
		P99:       s.Latency.Quantile(99),
	}

	// Non-blocking send
	select {
	case h.Updates <- snap:
	default:
		// Drop update if channel full, the reader acts as backpressure
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

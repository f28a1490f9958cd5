package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkerEnv is set in the environment of every isolated worker process.
const WorkerEnv = "POOLBENCH_WORKER"

// IsolatedWorkers runs a batch on a bounded pool of child processes. Inputs
// and results cross the process boundary as JSON.
type IsolatedWorkers struct {
	// Command is the worker argv. Empty means "<this executable> worker".
	Command []string
	// Env is appended to the inherited environment of each worker.
	Env []string
	// Registry must contain the batch task; workers resolve it by name.
	Registry    *Registry
	TaskTimeout time.Duration
	Observer    Observer
	Logger      *slog.Logger
}

func (p *IsolatedWorkers) Kind() Kind { return KindIsolated }

type child struct {
	id      int
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *json.Encoder
	scanner *bufio.Scanner
	stderr  bytes.Buffer
}

// Execute spawns the pool, dispatches every task, and reaps every worker
// before returning. Spawn failures abort with a PoolSetupError.
func (p *IsolatedWorkers) Execute(ctx context.Context, b *Batch, workers int) ([]Outcome, error) {
	if err := validate(b, workers); err != nil {
		return nil, err
	}
	if err := p.checkShareable(b); err != nil {
		return nil, err
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("strategy", string(KindIsolated)), slog.String("workload", b.Workload))

	n := b.Len()
	if workers > n {
		workers = n
	}

	children, err := p.spawnAll(ctx, b.Task.Name, workers)
	if err != nil {
		return nil, &PoolSetupError{Strategy: KindIsolated, Err: err}
	}
	logger.Debug("worker pool started", slog.Int("workers", len(children)))

	jobs := make(chan job, n)
	for i := 0; i < n; i++ {
		jobs <- job{index: i, input: b.Input(i)}
	}
	close(jobs)

	results := make(chan Outcome, n)
	var wg sync.WaitGroup

	for _, c := range children {
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			defer p.reap(c, logger)

			for j := range jobs {
				o, alive := p.dispatch(ctx, c, j)
				results <- o
				if !alive {
					return
				}
			}
		}(c)
	}

	go func() {
		wg.Wait()
		// Every worker died; whatever is still queued fails rather than vanishing.
		for j := range jobs {
			results <- Outcome{
				Index:    j.index,
				Err:      lost(ctx, j.index, fmt.Errorf("%w: no live workers", ErrWorkerLost)),
				Finished: time.Now(),
				Worker:   -1,
			}
		}
		close(results)
	}()

	outcomes := make([]Outcome, 0, n)
	for o := range results {
		if p.Observer != nil {
			p.Observer.TaskDone(o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (p *IsolatedWorkers) checkShareable(b *Batch) error {
	if b.Task.Name == "" {
		return configErrorf("workload %q: task has no name and cannot run in a worker process", b.Workload)
	}
	if b.Task.Decode == nil {
		return configErrorf("workload %q: task %q has no input decoder", b.Workload, b.Task.Name)
	}
	if p.Registry == nil {
		return configErrorf("isolated workers need a task registry")
	}
	if _, ok := p.Registry.Lookup(b.Task.Name); !ok {
		return configErrorf("task %q is not registered for worker processes", b.Task.Name)
	}
	return nil
}

func (p *IsolatedWorkers) command() ([]string, error) {
	if len(p.Command) > 0 {
		return p.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return []string{exe, "worker"}, nil
}

func (p *IsolatedWorkers) spawnAll(ctx context.Context, task string, workers int) ([]*child, error) {
	argv, err := p.command()
	if err != nil {
		return nil, err
	}

	children := make([]*child, workers)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			c, err := p.spawn(ctx, gctx, argv, i, task)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			children[i] = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, c := range children {
			if c != nil {
				_ = c.cmd.Process.Kill()
				_ = c.cmd.Wait()
			}
		}
		return nil, err
	}
	return children, nil
}

func (p *IsolatedWorkers) spawn(ctx, setupCtx context.Context, argv []string, id int, task string) (*child, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Env = append(cmd.Env, p.Env...)

	c := &child{id: id, cmd: cmd}
	cmd.Stderr = &c.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	c.stdin = stdin
	c.enc = json.NewEncoder(stdin)
	c.scanner = bufio.NewScanner(stdout)
	c.scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	// A sibling failing (or the run being canceled) must not leave this
	// handshake blocked on a silent child.
	stop := context.AfterFunc(setupCtx, func() { _ = cmd.Process.Kill() })
	defer stop()

	fail := func(err error) (*child, error) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if s := bytes.TrimSpace(c.stderr.Bytes()); len(s) > 0 {
			return nil, fmt.Errorf("%w (stderr: %s)", err, s)
		}
		return nil, err
	}

	if err := c.enc.Encode(request{Op: opHello, Task: task, Timeout: p.TaskTimeout}); err != nil {
		return fail(fmt.Errorf("send hello: %w", err))
	}

	resp, err := c.read()
	if err != nil {
		return fail(fmt.Errorf("handshake: %w", err))
	}
	if resp.Op != opReady || resp.Error != "" {
		return fail(fmt.Errorf("handshake refused: %s", resp.Error))
	}
	return c, nil
}

func (c *child) read() (response, error) {
	var resp response
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return resp, err
		}
		return resp, io.EOF
	}
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// dispatch runs one job on c. alive is false once c can take no more work.
func (p *IsolatedWorkers) dispatch(ctx context.Context, c *child, j job) (o Outcome, alive bool) {
	o = Outcome{Index: j.index, Worker: c.id}

	if err := ctx.Err(); err != nil {
		o.Finished = time.Now()
		o.Err = failure(j.index, FailureCanceled, err)
		return o, true
	}

	raw, err := json.Marshal(j.input)
	if err != nil {
		o.Finished = time.Now()
		o.Err = failure(j.index, FailureSerialization, &SerializationError{Err: fmt.Errorf("encode input: %w", err)})
		return o, true
	}

	o.Started = time.Now()
	if err := c.enc.Encode(request{Op: opRun, Seq: j.index, Input: raw}); err != nil {
		o.Finished = time.Now()
		o.Err = lost(ctx, j.index, fmt.Errorf("%w: send: %v", ErrWorkerLost, err))
		return o, false
	}

	resp, err := c.read()
	o.Finished = time.Now()
	if err != nil {
		o.Err = lost(ctx, j.index, fmt.Errorf("%w: %v", ErrWorkerLost, err))
		return o, false
	}
	if resp.Seq != j.index {
		o.Err = failure(j.index, FailureWorkerLost, fmt.Errorf("%w: response for task %d", ErrWorkerLost, resp.Seq))
		return o, false
	}

	if resp.Error != "" {
		err := remoteError(resp)
		o.Err = failure(j.index, classify(err), err)
		return o, true
	}
	o.Result = resp.Result
	return o, true
}

// lost classifies a task whose worker went away. Workers are killed when ctx
// ends, so a done ctx takes precedence over the transport error.
func lost(ctx context.Context, index int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure(index, FailureCanceled, ctxErr)
	}
	return failure(index, FailureWorkerLost, err)
}

func (p *IsolatedWorkers) reap(c *child, logger *slog.Logger) {
	_ = c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		err = <-done
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("worker exited abnormally",
			slog.Int("worker", c.id),
			slog.String("error", err.Error()),
			slog.String("stderr", string(bytes.TrimSpace(c.stderr.Bytes()))),
		)
	}
}

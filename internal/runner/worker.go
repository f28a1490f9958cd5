package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ServeWorker is the isolated worker loop. It reads requests from in, runs
// them one at a time and writes responses to out until in is closed.
func ServeWorker(ctx context.Context, reg *Registry, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	send := func(resp response) error {
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		return w.Flush()
	}

	var (
		task    Task
		timeout time.Duration
		ready   bool
		req     request
	)

	for scanner.Scan() {
		req = request{}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}

		switch req.Op {
		case opHello:
			t, ok := reg.Lookup(req.Task)
			if !ok {
				_ = send(response{Op: opReady, Error: fmt.Sprintf("unknown task %q", req.Task)})
				return configErrorf("unknown task %q", req.Task)
			}
			task, timeout, ready = t, req.Timeout, true
			if err := send(response{Op: opReady}); err != nil {
				return err
			}

		case opRun:
			if !ready {
				return errors.New("run request before hello")
			}
			if err := send(runOne(ctx, task, req, timeout)); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown op %q", req.Op)
		}
	}

	return scanner.Err()
}

func runOne(ctx context.Context, task Task, req request, timeout time.Duration) response {
	resp := response{Op: opDone, Seq: req.Seq}

	input, err := task.Decode(req.Input)
	if err != nil {
		resp.Error = (&SerializationError{Err: fmt.Errorf("decode input: %w", err)}).Error()
		resp.Kind = FailureSerialization
		return resp
	}

	v, err := invoke(ctx, task.Run, input, timeout)
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = classify(err)
		return resp
	}

	raw, err := json.Marshal(v)
	if err != nil {
		resp.Error = (&SerializationError{Err: fmt.Errorf("encode result: %w", err)}).Error()
		resp.Kind = FailureSerialization
		return resp
	}
	resp.Result = raw
	return resp
}

// remoteError rebuilds a worker-side failure in the parent.
func remoteError(resp response) error {
	msg := errors.New(resp.Error)
	switch resp.Kind {
	case FailureTimeout:
		return fmt.Errorf("%w (worker: %s)", ErrTimeout, resp.Error)
	case FailureSerialization:
		return &SerializationError{Err: msg}
	case FailurePanic:
		return fmt.Errorf("%w (worker: %s)", errPanic, resp.Error)
	default:
		return msg
	}
}

package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid run configuration: worker count, empty
	// batches, tasks that cannot cross a process boundary.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout is wrapped by outcomes that outlived the per-task timeout.
	ErrTimeout = errors.New("task timed out")
	// ErrWorkerLost is wrapped by outcomes whose worker process went away.
	ErrWorkerLost = errors.New("worker process lost")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// FailureKind classifies a failed task.
type FailureKind string

const (
	FailureTask          FailureKind = "task"
	FailurePanic         FailureKind = "panic"
	FailureTimeout       FailureKind = "timeout"
	FailureSerialization FailureKind = "serialization"
	FailureWorkerLost    FailureKind = "worker-lost"
	FailureCanceled      FailureKind = "canceled"
)

// TaskFailure is the error of a single failed outcome. It never aborts the
// batch.
type TaskFailure struct {
	Index int
	Kind  FailureKind
	Err   error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %d failed (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }

// SerializationError reports a value that could not cross the process
// boundary.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "serialization: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PoolSetupError reports a pool that could not be brought up. It aborts the
// run of that strategy only.
type PoolSetupError struct {
	Strategy Kind
	Err      error
}

func (e *PoolSetupError) Error() string {
	return fmt.Sprintf("%s pool setup: %v", e.Strategy, e.Err)
}

func (e *PoolSetupError) Unwrap() error { return e.Err }

// failure wraps err as a TaskFailure unless it already is one.
func failure(index int, kind FailureKind, err error) error {
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return err
	}
	return &TaskFailure{Index: index, Kind: kind, Err: err}
}

// classify picks the failure kind for an error returned by invoke.
func classify(err error) FailureKind {
	var se *SerializationError
	switch {
	case errors.Is(err, ErrTimeout):
		return FailureTimeout
	case errors.As(err, &se):
		return FailureSerialization
	case errors.Is(err, ErrWorkerLost):
		return FailureWorkerLost
	case errors.Is(err, errPanic):
		return FailurePanic
	default:
		return FailureTask
	}
}

package runner

import (
	"encoding/json"
	"sync"
	"time"
)

// Wire protocol between the parent and an isolated worker: one JSON object
// per line in each direction.
const (
	opHello = "hello"
	opReady = "ready"
	opRun   = "run"
	opDone  = "done"
)

type request struct {
	Op      string          `json:"op"`
	Task    string          `json:"task,omitempty"`
	Timeout time.Duration   `json:"timeout,omitempty"`
	Seq     int             `json:"seq"`
	Input   json.RawMessage `json:"input,omitempty"`
}

type response struct {
	Op     string          `json:"op"`
	Seq    int             `json:"seq"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   FailureKind     `json:"kind,omitempty"`
}

// Registry maps task names to tasks that can be rebuilt in a worker process.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds t. Tasks without a name or decoder cannot cross a process
// boundary and are rejected.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return configErrorf("task has no name")
	}
	if t.Run == nil || t.Decode == nil {
		return configErrorf("task %q needs both a function and a decoder", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.Name]; ok {
		return configErrorf("task %q registered twice", t.Name)
	}
	r.tasks[t.Name] = t
	return nil
}

// MustRegister is Register for package initialisation.
func (r *Registry) MustRegister(tasks ...Task) {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

package stats

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// Policy selects how CPU utilisation is sampled around a run.
type Policy string

const (
	// PolicyProcessDelta reads the cumulative CPU time of this process and its
	// reaped children before and after the run and reports the delta.
	PolicyProcessDelta Policy = "process-delta"
	// PolicySystemInstant takes one system-wide CPU reading after the run.
	PolicySystemInstant Policy = "system-instant"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyProcessDelta, "":
		return PolicyProcessDelta, nil
	case PolicySystemInstant:
		return PolicySystemInstant, nil
	default:
		return "", fmt.Errorf("unknown sampling policy %q (want %s or %s)", s, PolicyProcessDelta, PolicySystemInstant)
	}
}

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	Policy Policy
	Taken  time.Time
	// CPUTime is cumulative user+system time of this process and its reaped
	// children. Set under PolicyProcessDelta.
	CPUTime time.Duration
	// CPUPercent is the system-wide reading. Set on the post sample under
	// PolicySystemInstant.
	CPUPercent float64
	RSSBytes   uint64
}

// Sampler reads OS counters for the current process.
type Sampler struct {
	policy   Policy
	interval time.Duration
	proc     *process.Process

	mu   sync.Mutex
	last time.Time
}

// NewSampler builds a sampler. interval bounds the blocking system-wide CPU
// read of PolicySystemInstant.
func NewSampler(ctx context.Context, policy Policy, interval time.Duration) (*Sampler, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open self process: %w", err)
	}
	return &Sampler{policy: policy, interval: interval, proc: proc}, nil
}

func (s *Sampler) Policy() Policy { return s.policy }

// Pre is taken immediately before dispatch.
func (s *Sampler) Pre(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Policy: s.policy, Taken: s.now()}

	var err error
	if snap.RSSBytes, err = s.rss(ctx); err != nil {
		return snap, err
	}
	if s.policy == PolicyProcessDelta {
		if snap.CPUTime, err = s.cpuTime(ctx); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// Post is taken immediately after the last outcome is collected. The
// timestamp is read first so a blocking CPU read never counts as run time.
func (s *Sampler) Post(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Policy: s.policy, Taken: s.now()}

	var err error
	switch s.policy {
	case PolicyProcessDelta:
		if snap.CPUTime, err = s.cpuTime(ctx); err != nil {
			return snap, err
		}
	case PolicySystemInstant:
		pct, err := cpu.PercentWithContext(ctx, s.interval, false)
		if err != nil {
			return snap, fmt.Errorf("system cpu percent: %w", err)
		}
		if len(pct) > 0 {
			snap.CPUPercent = pct[0]
		}
	}

	if snap.RSSBytes, err = s.rss(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

// now never goes backwards across samples.
func (s *Sampler) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := time.Now()
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

func (s *Sampler) rss(ctx context.Context) (uint64, error) {
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory info: %w", err)
	}
	return mem.RSS, nil
}

func (s *Sampler) cpuTime(ctx context.Context) (time.Duration, error) {
	times, err := s.proc.TimesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("cpu times: %w", err)
	}
	self := time.Duration((times.User + times.System) * float64(time.Second))
	return self + childrenCPUTime(), nil
}

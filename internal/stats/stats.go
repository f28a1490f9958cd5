package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds live counters for one run
type Stats struct {
	Total     uint64
	Done      uint64
	Succeeded uint64
	Failed    uint64

	// Service time of finished tasks
	Latency *SafeHistogram
}

func NewStats(total int) *Stats {
	return &Stats{
		Total:   uint64(total),
		Latency: NewSafeHistogram(),
	}
}

func (s *Stats) Add(ok bool, latency time.Duration) {
	atomic.AddUint64(&s.Done, 1)
	if ok {
		atomic.AddUint64(&s.Succeeded, 1)
	} else {
		atomic.AddUint64(&s.Failed, 1)
	}
	if latency > 0 {
		s.Latency.Record(latency)
	}
}

// Progress returns the finished fraction in [0, 1].
func (s *Stats) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	p := float64(atomic.LoadUint64(&s.Done)) / float64(s.Total)
	if p > 1 {
		p = 1
	}
	return p
}

func (s *Stats) ErrorRate() float64 {
	done := atomic.LoadUint64(&s.Done)
	if done == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.Failed)) / float64(done) * 100
}

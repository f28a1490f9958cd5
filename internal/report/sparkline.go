package report

import (
	"strings"
	"time"
)

var levels = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline renders latencies in completion order, scaled to the window max.
// Longer series are averaged into width buckets.
func Sparkline(data []time.Duration, width int) string {
	if width <= 0 || len(data) == 0 {
		return ""
	}

	buckets := data
	if len(data) > width {
		buckets = make([]time.Duration, width)
		for i := range buckets {
			lo := i * len(data) / width
			hi := (i + 1) * len(data) / width
			var sum time.Duration
			for _, v := range data[lo:hi] {
				sum += v
			}
			buckets[i] = sum / time.Duration(hi-lo)
		}
	}

	var max time.Duration
	for _, v := range buckets {
		if v > max {
			max = v
		}
	}

	var graph strings.Builder
	for _, v := range buckets {
		if max == 0 {
			graph.WriteString(levels[0])
			continue
		}
		idx := int(float64(v) / float64(max) * float64(len(levels)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		graph.WriteString(levels[idx])
	}
	return graph.String()
}

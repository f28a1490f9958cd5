package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"poolbench/internal/runner"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
)

// Options tune text rendering.
type Options struct {
	Sparkline bool
	Width     int
}

// Write renders r as key=value lines.
func Write(w io.Writer, r *Record, opts Options) error {
	title := fmt.Sprintf("[%s/%s]", r.Workload, r.Strategy)
	if r.Aborted() {
		fmt.Fprintln(w, errorStyle.Render(title+" FAILED"))
	} else {
		fmt.Fprintln(w, headerStyle.Render(title))
	}

	kv := func(k string, v any) {
		fmt.Fprintf(w, "%s=%v\n", k, v)
	}

	kv("id", r.ID)
	kv("workload", r.Workload)
	kv("strategy", r.Strategy)
	kv("sampling", r.Policy)
	kv("workers", r.Workers)
	kv("seed", r.Seed)
	kv("tasks", r.Tasks)

	if r.Aborted() {
		kv("status", "aborted")
		kv("error", quote(r.Error))
		if r.FixtureTime > 0 {
			kv("fixture_time", formatDuration(r.FixtureTime))
		}
		_, err := fmt.Fprintln(w)
		return err
	}

	kv("status", "completed")
	kv("succeeded", r.Succeeded)
	kv("failed", r.Failed)
	kv("elapsed", formatDuration(r.Elapsed))
	kv("throughput", fmt.Sprintf("%.2f tasks/s", r.Throughput))
	kv("cpu", fmt.Sprintf("%.2f%%", r.CPUPercent))
	kv("memory_delta", formatSignedBytes(r.MemoryDelta))
	if r.MeanLatency != nil {
		kv("mean_latency", formatDuration(*r.MeanLatency))
	} else {
		kv("mean_latency", "undefined")
	}
	kv("p50_latency", formatDuration(r.P50Latency))
	kv("p90_latency", formatDuration(r.P90Latency))
	kv("p99_latency", formatDuration(r.P99Latency))
	kv("max_latency", formatDuration(r.MaxLatency))
	if r.FixtureTime > 0 {
		kv("fixture_time", formatDuration(r.FixtureTime))
	}
	if opts.Sparkline && len(r.Latencies) > 0 {
		width := opts.Width
		if width <= 0 {
			width = 40
		}
		kv("latency_trend", quote(Sparkline(r.Latencies, width)))
	}

	_, err := fmt.Fprintln(w)
	return err
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []*Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Comparison is the isolated/concurrent pairing of one workload.
type Comparison struct {
	Workload   string
	Concurrent *Record
	Isolated   *Record
}

// Ratio is isolated elapsed over concurrent elapsed; above 1 means the
// concurrent strategy finished first. Zero when either side is missing.
func (c Comparison) Ratio() float64 {
	if c.Concurrent == nil || c.Isolated == nil ||
		c.Concurrent.Aborted() || c.Isolated.Aborted() ||
		c.Concurrent.Elapsed <= 0 {
		return 0
	}
	return c.Isolated.Elapsed.Seconds() / c.Concurrent.Elapsed.Seconds()
}

// Compare pairs records by workload. Workloads are returned sorted.
func Compare(records []*Record) []Comparison {
	byWorkload := make(map[string]*Comparison)
	for _, r := range records {
		c, ok := byWorkload[r.Workload]
		if !ok {
			c = &Comparison{Workload: r.Workload}
			byWorkload[r.Workload] = c
		}
		switch r.Strategy {
		case runner.KindConcurrent:
			c.Concurrent = r
		case runner.KindIsolated:
			c.Isolated = r
		}
	}

	out := make([]Comparison, 0, len(byWorkload))
	for _, c := range byWorkload {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Workload < out[j].Workload })
	return out
}

// WriteComparison renders one key=value block per workload that ran under
// both strategies.
func WriteComparison(w io.Writer, comps []Comparison) error {
	for _, c := range comps {
		ratio := c.Ratio()
		if ratio == 0 {
			continue
		}
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("[%s/compare]", c.Workload)))
		fmt.Fprintf(w, "concurrent_elapsed=%s\n", formatDuration(c.Concurrent.Elapsed))
		fmt.Fprintf(w, "isolated_elapsed=%s\n", formatDuration(c.Isolated.Elapsed))
		fmt.Fprintf(w, "isolated_over_concurrent=%.2fx\n", ratio)
		faster := runner.KindConcurrent
		if ratio < 1 {
			faster = runner.KindIsolated
		}
		if _, err := fmt.Fprintf(w, "faster=%s\n\n", faster); err != nil {
			return err
		}
	}
	return nil
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.4fs", d.Seconds())
	}
}

func formatSignedBytes(b int64) string {
	if b < 0 {
		return "-" + formatBytes(uint64(-b))
	}
	return formatBytes(uint64(b))
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "0 B"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}

package stats

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeHistogram_Quantiles(t *testing.T) {
	h := NewSafeHistogram()
	for i := 1; i <= 100; i++ {
		require.NoError(t, h.Record(time.Duration(i)*time.Millisecond))
	}

	assert.EqualValues(t, 100, h.TotalCount())
	assert.InDelta(t, float64(50*time.Millisecond), float64(h.Quantile(50)), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(h.Quantile(99)), float64(time.Millisecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(h.Max()), float64(time.Millisecond))
	assert.InDelta(t, float64(50500*time.Microsecond), float64(h.Mean()), float64(time.Millisecond))
}

func TestSafeHistogram_ClampsOutOfRange(t *testing.T) {
	h := NewSafeHistogram()
	require.NoError(t, h.Record(0))
	require.NoError(t, h.Record(-time.Second))
	require.NoError(t, h.Record(2*time.Hour))
	assert.EqualValues(t, 3, h.TotalCount())
	assert.LessOrEqual(t, h.Max(), time.Hour+time.Hour/100)
}

func TestStats_Add(t *testing.T) {
	s := NewStats(4)
	s.Add(true, 10*time.Millisecond)
	s.Add(false, 0)
	s.Add(true, 20*time.Millisecond)

	assert.EqualValues(t, 3, s.Done)
	assert.EqualValues(t, 2, s.Succeeded)
	assert.EqualValues(t, 1, s.Failed)
	assert.InDelta(t, 0.75, s.Progress(), 1e-9)
	assert.InDelta(t, 100.0/3, s.ErrorRate(), 1e-9)
	assert.EqualValues(t, 2, s.Latency.TotalCount())

	assert.Zero(t, NewStats(0).Progress())
	assert.Zero(t, NewStats(3).ErrorRate())
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"process-delta", PolicyProcessDelta, false},
		{"", PolicyProcessDelta, false},
		{" System-Instant ", PolicySystemInstant, false},
		{"average", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSampler_RejectsUnknownPolicy(t *testing.T) {
	_, err := NewSampler(context.Background(), Policy("bogus"), 0)
	assert.Error(t, err)
}

func TestSampler_ProcessDeltaSeesCPUWork(t *testing.T) {
	ctx := context.Background()
	s, err := NewSampler(ctx, PolicyProcessDelta, 0)
	require.NoError(t, err)
	assert.Equal(t, PolicyProcessDelta, s.Policy())

	pre, err := s.Pre(ctx)
	require.NoError(t, err)

	deadline := time.Now().Add(200 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	runtime.KeepAlive(x)

	post, err := s.Post(ctx)
	require.NoError(t, err)

	assert.True(t, post.Taken.After(pre.Taken))
	assert.Greater(t, post.CPUTime, pre.CPUTime)
	assert.NotZero(t, pre.RSSBytes)
	assert.NotZero(t, post.RSSBytes)
	assert.Zero(t, post.CPUPercent)
}

func TestSampler_SystemInstantExcludesReadFromTimestamp(t *testing.T) {
	ctx := context.Background()
	s, err := NewSampler(ctx, PolicySystemInstant, 150*time.Millisecond)
	require.NoError(t, err)

	pre, err := s.Pre(ctx)
	require.NoError(t, err)
	before := time.Now()
	post, err := s.Post(ctx)
	require.NoError(t, err)

	// The 150ms blocking read happens after the timestamp.
	assert.Less(t, post.Taken.Sub(before), 100*time.Millisecond)
	assert.False(t, post.Taken.Before(pre.Taken))
	assert.GreaterOrEqual(t, post.CPUPercent, 0.0)
	assert.LessOrEqual(t, post.CPUPercent, 100.0)
	assert.Zero(t, post.CPUTime)
}

func TestSampler_TimestampsNeverGoBackwards(t *testing.T) {
	s, err := NewSampler(context.Background(), PolicyProcessDelta, 0)
	require.NoError(t, err)

	s.last = time.Now().Add(time.Hour)
	got := s.now()
	assert.Equal(t, s.last, got)
}

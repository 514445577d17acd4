package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReport(t *testing.T) {
	tests := []struct {
		name        string
		items       int64
		window      time.Duration
		active      time.Duration
		throughput  float64
		utilization float64
	}{
		{
			name:        "one second window",
			items:       500,
			window:      time.Second,
			active:      250 * time.Millisecond,
			throughput:  500,
			utilization: 25,
		},
		{
			name:        "two second window",
			items:       500,
			window:      2 * time.Second,
			active:      1500 * time.Millisecond,
			throughput:  250,
			utilization: 75,
		},
		{
			name:        "sub millisecond active time truncates",
			items:       10,
			window:      time.Second,
			active:      900 * time.Microsecond,
			throughput:  10,
			utilization: 0,
		},
		{
			name:   "zero window",
			items:  3,
			window: 0,
			active: 0,
		},
		{
			name:   "window shorter than a millisecond",
			items:  7,
			window: 999 * time.Microsecond,
			active: 500 * time.Microsecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReport("stage", tt.items, tt.window, tt.active)
			assert.Equal(t, "stage", r.Stage)
			assert.Equal(t, tt.items, r.Items)
			assert.InDelta(t, tt.throughput, r.Throughput, 1e-9)
			assert.InDelta(t, tt.utilization, r.Utilization, 1e-9)
		})
	}
}

func TestWindowObserve(t *testing.T) {
	t0 := time.Unix(0, 0)
	w := newWindow("abs", time.Second, t0)

	for i := 1; i < 4; i++ {
		_, ok := w.observe(t0.Add(time.Duration(i)*300*time.Millisecond), 100*time.Millisecond)
		assert.False(t, ok, "window closed early at item %d", i)
	}

	r, ok := w.observe(t0.Add(1200*time.Millisecond), 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, int64(4), r.Items)
	assert.Equal(t, 1200*time.Millisecond, r.Window)
	assert.Equal(t, 400*time.Millisecond, r.Active)
	assert.InDelta(t, 4.0/1200*1000, r.Throughput, 1e-9)
	assert.InDelta(t, 400.0/1200*100, r.Utilization, 1e-9)

	// the next window starts where the last one ended
	_, ok = w.observe(t0.Add(2100*time.Millisecond), 0)
	assert.False(t, ok)
	r, ok = w.observe(t0.Add(2200*time.Millisecond), 50*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, int64(2), r.Items)
	assert.Equal(t, time.Second, r.Window)
	assert.Equal(t, 50*time.Millisecond, r.Active)
}

func TestReportFields(t *testing.T) {
	r := newReport("gain", 10, time.Second, 100*time.Millisecond)
	fields := r.Fields()
	require.Len(t, fields, 5)
	assert.Equal(t, "stage", fields[0].Key)
	assert.Equal(t, "gain", fields[0].String)
}

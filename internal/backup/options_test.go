package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		name     string
		in       Options
		interval time.Duration
		sched    time.Duration
	}{
		{"zero", Options{}, 2 * time.Second, 0},
		{"negative", Options{Interval: -1, SchedulingInterval: -1}, 2 * time.Second, 100 * time.Millisecond},
		{"explicit", Options{Interval: time.Second, SchedulingInterval: time.Millisecond}, time.Second, time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			assert.Equal(t, tt.interval, got.Interval)
			assert.Equal(t, tt.sched, got.SchedulingInterval)
			assert.NotNil(t, got.Serialize)
		})
	}
}

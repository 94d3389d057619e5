package streamer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/ondepi-go/internal/conf"
)

func TestDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		attempt  int
		initial  time.Duration
		maxDelay time.Duration
		want     time.Duration
	}{
		{"first attempt uses initial", 1, 3 * time.Second, 10 * time.Second, 3 * time.Second},
		{"second attempt doubles", 2, 3 * time.Second, 10 * time.Second, 6 * time.Second},
		{"third attempt capped", 3, 3 * time.Second, 10 * time.Second, 10 * time.Second},
		{"uncapped when max is zero", 4, time.Second, 0, 8 * time.Second},
		{"attempt zero treated as one", 0, 2 * time.Second, 0, 2 * time.Second},
		{"huge attempt stays capped", 500, time.Second, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Delay(tt.attempt, tt.initial, tt.maxDelay))
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := PolicyFromSettings(&conf.GeneralSettings{
		Reconnect:                true,
		RetryInitialDelaySeconds: 0.5,
		RetryMaxDelaySeconds:     2,
		RetryMaxAttempts:         3,
	})
	assert.True(t, p.Reconnect)
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(4))

	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))

	unbounded := RetryPolicy{Reconnect: true}
	assert.False(t, unbounded.Exhausted(1000))
}

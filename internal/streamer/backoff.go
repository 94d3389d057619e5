package streamer

import (
	"math"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
)

// RetryPolicy is the reconnect configuration captured for one exit decision.
type RetryPolicy struct {
	Reconnect    bool
	InitialDelay time.Duration
	MaxDelay     time.Duration // 0 = uncapped
	MaxAttempts  int           // 0 = unbounded
}

// PolicyFromSettings snapshots the retry settings.
func PolicyFromSettings(g *conf.GeneralSettings) RetryPolicy {
	return RetryPolicy{
		Reconnect:    g.Reconnect,
		InitialDelay: seconds(g.RetryInitialDelaySeconds),
		MaxDelay:     seconds(g.RetryMaxDelaySeconds),
		MaxAttempts:  g.RetryMaxAttempts,
	}
}

// Exhausted reports whether retries already made reach the attempt cap.
func (p RetryPolicy) Exhausted(retries int) bool {
	return p.MaxAttempts > 0 && retries >= p.MaxAttempts
}

// Delay returns the wait before retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return Delay(attempt, p.InitialDelay, p.MaxDelay)
}

// Delay returns initial*2^(attempt-1), capped at maxDelay when maxDelay > 0.
// Attempts below 1 are treated as 1.
func Delay(attempt int, initial, maxDelay time.Duration) time.Duration {
	exp := max(attempt-1, 0)
	d := float64(initial) * math.Pow(2, float64(exp))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

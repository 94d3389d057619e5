// Package testutil provides shared test helpers: leak-check options and
// bounded waits on channels.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second
)

// LeakOptions returns the goleak options shared by every package. The
// go-cache janitor outlives its cache until finalization, so it is ignored.
func LeakOptions(extra ...goleak.Option) []goleak.Option {
	return append([]goleak.Option{
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	}, extra...)
}

// VerifyTestMain runs the package tests and fails on leaked goroutines.
func VerifyTestMain(m goleak.TestingM, extra ...goleak.Option) {
	goleak.VerifyTestMain(m, LeakOptions(extra...)...)
}

// WaitForChannel waits for a value or close on ch or fails after timeout.
func WaitForChannel[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
	var zero T
	return zero
}

// RequireNoValue fails if ch delivers anything within wait.
func RequireNoValue[T any](t testing.TB, ch <-chan T, wait time.Duration, msg string) {
	t.Helper()
	select {
	case v := <-ch:
		require.FailNow(t, msg, "received %v", v)
	case <-time.After(wait):
	}
}

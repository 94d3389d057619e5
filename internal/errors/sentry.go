package errors

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives every built error while installed.
type Reporter interface {
	Report(ee *EnhancedError)
}

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs r as the telemetry sink; nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	reporter = r
	reporterMu.Unlock()
}

func report(ee *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil && ee.markReported() {
		r.Report(ee)
	}
}

// InitSentry starts the Sentry client and installs it as the reporter. An
// empty DSN leaves telemetry off.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:            dsn,
		Release:        release,
		SendDefaultPII: false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.Message = scrub(event.Message)
			return event
		},
	})
	if err != nil {
		return New(err).
			Component("telemetry").
			Category(CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}
	SetReporter(sentryReporter{})
	return nil
}

// FlushSentry waits up to timeout for queued events.
func FlushSentry(timeout time.Duration) {
	reporterMu.RLock()
	_, active := reporter.(sentryReporter)
	reporterMu.RUnlock()
	if active {
		sentry.Flush(timeout)
	}
}

type sentryReporter struct{}

func (sentryReporter) Report(ee *EnhancedError) {
	msg := scrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Err))
	title := ee.Component + " " + string(ee.Category)
	level := sentryLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for k, v := range ee.fields {
			if s, ok := v.(string); ok {
				v = scrub(s)
			}
			scope.SetContext(k, map[string]any{"value": v})
		}
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Level = level
		event.Message = msg
		event.Exception = []sentry.Exception{{Type: title, Value: msg}}
		sentry.CaptureEvent(event)
	})
}

// sentryLevel downgrades failures the supervision loops recover from.
func sentryLevel(c ErrorCategory) sentry.Level {
	switch c {
	case CategoryNetwork, CategoryHTTP, CategoryTimeout, CategoryStream, CategoryMetadata,
		CategoryAudio, CategoryAudioSource, CategoryCommandExecution,
		CategoryMQTTConnection, CategoryMQTTPublish:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	scrubberMu sync.RWMutex
	scrubber   func(string) string
)

// SetPrivacyScrubber replaces the built-in redaction applied to outgoing
// telemetry.
func SetPrivacyScrubber(fn func(string) string) {
	scrubberMu.Lock()
	scrubber = fn
	scrubberMu.Unlock()
}

func scrub(s string) string {
	scrubberMu.RLock()
	fn := scrubber
	scrubberMu.RUnlock()
	if fn != nil {
		return fn(s)
	}
	return redact(s)
}

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`([a-z][a-z0-9+.-]*://)[^/@\s]+@`), "${1}[CREDENTIALS]@"},
	{regexp.MustCompile(`(://[^?\s]+)\?\S*`), "$1?[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+\S+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|password|auth)[=:]\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`[0-9a-fA-F]{32,}`), "[REDACTED]"},
}

// redact masks credentials, query strings and long hex keys.
func redact(s string) string {
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

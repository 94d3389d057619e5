// Package errors attaches a component, a category and structured context to
// errors so they can be matched, logged and reported to telemetry uniformly.
// It also passes through the standard library helpers so callers only need
// one errors import.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for matching and telemetry.
type ErrorCategory string

const (
	CategoryGeneric          ErrorCategory = "generic"
	CategoryValidation       ErrorCategory = "validation"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryNotFound         ErrorCategory = "not-found"
	CategoryFileIO           ErrorCategory = "file-io"
	CategoryDatabase         ErrorCategory = "database"
	CategorySystem           ErrorCategory = "system-resource"
	CategoryNetwork          ErrorCategory = "network"
	CategoryHTTP             ErrorCategory = "http-request"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryCancellation     ErrorCategory = "cancellation"
	CategoryIntegration      ErrorCategory = "integration"
	CategoryAudio            ErrorCategory = "audio-processing"
	CategoryAudioSource      ErrorCategory = "audio-source"
	CategoryCommandExecution ErrorCategory = "command-execution" // encoder process
	CategoryStream           ErrorCategory = "stream-output"
	CategoryMetadata         ErrorCategory = "metadata-push"
	CategoryMQTTConnection   ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish      ErrorCategory = "mqtt-publish"
)

// ComponentUnknown is used when no component was given and none could be
// derived from the caller.
const ComponentUnknown = "unknown"

// EnhancedError is an error annotated by the builder. It is immutable once
// built, apart from the reported flag.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Timestamp time.Time

	fields   map[string]any
	reported atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError by category, anything else through the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// Fields returns a copy of the structured context.
func (ee *EnhancedError) Fields() map[string]any {
	return maps.Clone(ee.fields)
}

// markReported returns false if the error was already reported.
func (ee *EnhancedError) markReported() bool {
	return ee.reported.CompareAndSwap(false, true)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	fields    map[string]any
}

// New starts a builder around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder around a formatted error.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the subsystem the error came from.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. Without one, Build classifies the error.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds one structured field.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.fields == nil {
		eb.fields = make(map[string]any)
	}
	eb.fields[key] = value
	return eb
}

// DeviceContext records the capture device parameters, skipping unset ones.
func (eb *ErrorBuilder) DeviceContext(deviceID string, sampleRate, channels int) *ErrorBuilder {
	if deviceID != "" {
		eb.Context("device_id", deviceID)
	}
	if sampleRate > 0 {
		eb.Context("sample_rate", sampleRate)
	}
	if channels > 0 {
		eb.Context("channels", channels)
	}
	return eb
}

// Build returns the error and hands it to the telemetry reporter if one is
// installed.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Timestamp: time.Now(),
		fields:    eb.fields,
	}
	if ee.Component == "" {
		ee.Component = callerComponent()
	}
	if ee.Category == "" {
		ee.Category = classify(eb.err, ee.Component)
	}
	report(ee)
	return ee
}

// callerComponent derives a component from the first caller outside this
// package, e.g. ".../internal/audiocore/sources/malgo.open" becomes
// "audiocore.sources.malgo".
func callerComponent() string {
	var pcs [8]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if c := componentOf(frame.Function); c != "" && c != "errors" {
			return c
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func componentOf(function string) string {
	pkg, _, _ := strings.Cut(function, "[")
	if slash := strings.LastIndex(pkg, "/"); slash >= 0 {
		if dot := strings.Index(pkg[slash:], "."); dot > 0 {
			pkg = pkg[:slash+dot]
		}
	} else if dot := strings.Index(pkg, "."); dot > 0 {
		pkg = pkg[:dot]
	}
	if _, rest, ok := strings.Cut(pkg, "/internal/"); ok {
		return strings.ReplaceAll(rest, "/", ".")
	}
	if slash := strings.LastIndex(pkg, "/"); slash >= 0 {
		return pkg[slash+1:]
	}
	return pkg
}

// messageCategories is checked in order; the first match wins.
var messageCategories = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryAudioSource, []string{"device"}},
	{CategoryCommandExecution, []string{"ffmpeg", "exited with code"}},
	{CategoryTimeout, []string{"timeout", "deadline"}},
	{CategoryNetwork, []string{"connection", "refused"}},
	{CategoryValidation, []string{"validation", "invalid", "must be"}},
	{CategoryFileIO, []string{"file", "permission"}},
}

var componentCategories = map[string]ErrorCategory{
	"audiocore":     CategoryAudio,
	"streamer":      CategoryStream,
	"metadata":      CategoryMetadata,
	"history":       CategoryDatabase,
	"api":           CategoryHTTP,
	"httpclient":    CategoryHTTP,
	"conf":          CategoryConfiguration,
	"configuration": CategoryConfiguration,
}

// classify picks a category for err: an inner EnhancedError's category
// first, then message keywords, then the component's default.
func classify(err error, component string) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}
	var inner *EnhancedError
	if stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}

	msg := strings.ToLower(err.Error())
	for _, mc := range messageCategories {
		for _, kw := range mc.keywords {
			if strings.Contains(msg, kw) {
				return mc.category
			}
		}
	}

	root, _, _ := strings.Cut(component, ".")
	if c, ok := componentCategories[root]; ok {
		return c
	}
	return CategoryGeneric
}

// IsCategory reports whether err wraps an EnhancedError of category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return stderrors.As(err, &ee) && ee.Category == category
}

// NewStd is errors.New from the standard library.
func NewStd(text string) error { return stderrors.New(text) }

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Unwrap is errors.Unwrap from the standard library.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Join is errors.Join from the standard library.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// Package status holds the mutable runtime state shared by the capture engine,
// the stream supervisor and the control surface.
package status

import (
	"sync"
	"time"
)

// ErrorSource tags the subsystem that recorded the last error.
type ErrorSource string

const (
	SourceCapture  ErrorSource = "capture"
	SourceEncoder  ErrorSource = "encoder"
	SourceBridge   ErrorSource = "bridge"
	SourceMetadata ErrorSource = "metadata"
	SourceControl  ErrorSource = "control"
)

// Levels is the most recent meter reading, normalized to [0,1].
type Levels struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

// Snapshot is an immutable copy of the shared state.
type Snapshot struct {
	Streaming       bool        `json:"streaming"`
	LastError       *string     `json:"last_error"`
	LastErrorAt     *time.Time  `json:"last_error_at"`
	LastErrorSource ErrorSource `json:"last_error_source,omitempty"`
	StartedAt       *time.Time  `json:"started_at"`
	Levels          Levels      `json:"levels"`
	GainDB          float64     `json:"gain_db"`
	RetryCount      int         `json:"retry_count"`
	LastRetryAt     *time.Time  `json:"last_retry_at"`
	LastExitCode    *int        `json:"last_exit_code"`
	SessionID       string      `json:"session_id,omitempty"`
}

// Shared is the mutex-guarded state record. The zero value is ready to use.
// Concurrent error writers resolve by last write; every write carries its
// time and source.
type Shared struct {
	mu sync.RWMutex
	s  Snapshot
	// now is replaced in tests
	now func() time.Time
}

// New returns an empty Shared status.
func New() *Shared {
	return &Shared{now: time.Now}
}

func (sh *Shared) clock() time.Time {
	if sh.now == nil {
		return time.Now()
	}
	return sh.now()
}

// Snapshot returns a copy of the current state. Pointer fields point at
// copies so callers cannot mutate the record.
func (sh *Shared) Snapshot() Snapshot {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := sh.s
	out.LastError = clonePtr(sh.s.LastError)
	out.LastErrorAt = clonePtr(sh.s.LastErrorAt)
	out.StartedAt = clonePtr(sh.s.StartedAt)
	out.LastRetryAt = clonePtr(sh.s.LastRetryAt)
	out.LastExitCode = clonePtr(sh.s.LastExitCode)
	return out
}

// SetError records msg as the last error.
func (sh *Shared) SetError(source ErrorSource, msg string) {
	now := sh.clock()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.s.LastError = &msg
	sh.s.LastErrorAt = &now
	sh.s.LastErrorSource = source
}

// ClearError removes the last error.
func (sh *Shared) ClearError() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.s.LastError = nil
	sh.s.LastErrorAt = nil
	sh.s.LastErrorSource = ""
}

// ClearErrorFrom removes the last error only when source recorded it.
func (sh *Shared) ClearErrorFrom(source ErrorSource) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.s.LastErrorSource == source {
		sh.s.LastError = nil
		sh.s.LastErrorAt = nil
		sh.s.LastErrorSource = ""
	}
}

// SetStreaming marks the encoder live or stopped. Going live records the
// start time and session id. Stopping clears the session id; StartedAt keeps
// the start of the last session.
func (sh *Shared) SetStreaming(streaming bool, sessionID string) {
	now := sh.clock()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.s.Streaming = streaming
	if streaming {
		sh.s.StartedAt = &now
		sh.s.SessionID = sessionID
		return
	}
	sh.s.SessionID = ""
}

// SetLevels stores the latest meter reading.
func (sh *Shared) SetLevels(rms, peak float64) {
	sh.mu.Lock()
	sh.s.Levels = Levels{RMS: rms, Peak: peak}
	sh.mu.Unlock()
}

// Levels returns the latest meter reading.
func (sh *Shared) Levels() Levels {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.s.Levels
}

// SetGain stores the input gain in dB.
func (sh *Shared) SetGain(db float64) {
	sh.mu.Lock()
	sh.s.GainDB = db
	sh.mu.Unlock()
}

// Gain returns the input gain in dB. Read once per processed block.
func (sh *Shared) Gain() float64 {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.s.GainDB
}

// ResetRetries clears retry bookkeeping. Called on explicit starts only.
func (sh *Shared) ResetRetries() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.s.RetryCount = 0
	sh.s.LastRetryAt = nil
	sh.s.LastExitCode = nil
}

// IncRetry bumps the retry counter, stamps the retry time and returns the new count.
func (sh *Shared) IncRetry() int {
	now := sh.clock()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.s.RetryCount++
	sh.s.LastRetryAt = &now
	return sh.s.RetryCount
}

// RetryCount returns the number of relaunches since the last explicit start.
func (sh *Shared) RetryCount() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.s.RetryCount
}

// SetExitCode records the exit code of the last encoder process.
func (sh *Shared) SetExitCode(code int) {
	sh.mu.Lock()
	sh.s.LastExitCode = &code
	sh.mu.Unlock()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

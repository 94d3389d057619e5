package streamer

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/ondepi-go/internal/logger"
)

// maxPartialLine bounds the unterminated line kept between writes.
const maxPartialLine = 4096

// outputTail collects one encoder output stream, logging each line and
// remembering the last non-empty one for the exit message.
type outputTail struct {
	mu      sync.Mutex
	partial []byte
	last    string
	stream  string
	logf    func(msg string, fields ...logger.Field)
	limiter *rate.Limiter
}

// newStderrTail logs stderr lines as warnings; ffmpeg reports problems there.
func newStderrTail(log logger.Logger) *outputTail {
	return newOutputTail("stderr", log.Warn)
}

// newStdoutTail logs stdout lines at debug level.
func newStdoutTail(log logger.Logger) *outputTail {
	return newOutputTail("stdout", log.Debug)
}

func newOutputTail(stream string, logf func(string, ...logger.Field)) *outputTail {
	return &outputTail{
		stream:  stream,
		logf:    logf,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (t *outputTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, p...)
	for {
		i := bytes.IndexAny(t.partial, "\r\n")
		if i < 0 {
			break
		}
		t.line(string(t.partial[:i]))
		t.partial = t.partial[i+1:]
	}
	if len(t.partial) > maxPartialLine {
		t.line(string(t.partial))
		t.partial = t.partial[:0]
	}
	return len(p), nil
}

func (t *outputTail) line(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	t.last = s
	if t.limiter.Allow() {
		t.logf("ffmpeg", logger.String(t.stream, logger.RedactSensitiveData(s)))
	}
}

// LastLine returns the last non-empty line, including an unterminated tail.
func (t *outputTail) LastLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tail := strings.TrimSpace(string(t.partial)); tail != "" {
		return tail
	}
	return t.last
}

// Package ratelimit implements a token bucket used to cap data-channel
// throughput at a configured rate.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// Limiter is a token bucket with a burst capacity of one second's worth
// of data. A nil *Limiter is valid and imposes no limit.
type Limiter struct {
	mu     sync.Mutex
	rate   float64 // bytes per second
	burst  float64
	tokens float64
	last   time.Time
}

// PerKiB returns a limiter for the given KiB/s rate, or nil for rates
// of zero or below (unlimited).
func PerKiB(kibPerSecond int64) *Limiter {
	if kibPerSecond <= 0 {
		return nil
	}
	return New(kibPerSecond * 1024)
}

// New returns a limiter for the given bytes-per-second rate, or nil for
// rates of zero or below.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:   rate,
		burst:  rate,
		tokens: rate,
		last:   time.Now(),
	}
}

// refill credits tokens for the time elapsed since the last update.
// Callers must hold mu.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
}

// take consumes n tokens, sleeping as needed to respect the rate. Waits
// are capped at one second per call so a huge request cannot stall the
// transfer indefinitely.
func (l *Limiter) take(n int) {
	if l == nil || n <= 0 {
		return
	}

	need := float64(n)

	l.mu.Lock()
	l.refill(time.Now())
	if l.tokens >= need {
		l.tokens -= need
		l.mu.Unlock()
		return
	}

	wait := time.Duration((need - l.tokens) / l.rate * float64(time.Second))
	if wait > time.Second {
		wait = time.Second
	}
	l.mu.Unlock()

	time.Sleep(wait)

	l.mu.Lock()
	l.refill(time.Now())
	if l.tokens >= need {
		l.tokens -= need
	} else {
		l.tokens = 0
	}
	l.mu.Unlock()
}

// readChunk bounds individual reads so waits stay responsive.
const readChunk = 8 * 1024

// writeChunk bounds individual writes.
const writeChunk = 64 * 1024

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader wraps r so reads respect the limiter. Returns r unchanged
// for a nil limiter.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > readChunk {
		p = p[:readChunk]
	}
	r.l.take(len(p))
	return r.r.Read(p)
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter wraps w so writes respect the limiter. Returns w unchanged
// for a nil limiter.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		chunk := len(p) - written
		if chunk > writeChunk {
			chunk = writeChunk
		}
		w.l.take(chunk)
		n, err := w.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

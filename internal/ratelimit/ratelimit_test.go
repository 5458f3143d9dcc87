package ratelimit

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestNilLimiterIsUnlimited(t *testing.T) {
	t.Parallel()
	if PerKiB(0) != nil {
		t.Error("PerKiB(0) must be nil (unlimited)")
	}
	if PerKiB(-5) != nil {
		t.Error("PerKiB(-5) must be nil")
	}
	if New(0) != nil {
		t.Error("New(0) must be nil")
	}

	// take on a nil limiter never blocks.
	var l *Limiter
	done := make(chan struct{})
	go func() {
		l.take(1 << 30)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nil limiter blocked")
	}
}

func TestNewReaderWriterPassthrough(t *testing.T) {
	t.Parallel()
	src := strings.NewReader("payload")
	if r := NewReader(src, nil); r != src {
		t.Error("NewReader with nil limiter must return the reader unchanged")
	}
	var buf bytes.Buffer
	if w := NewWriter(&buf, nil); w != &buf {
		t.Error("NewWriter with nil limiter must return the writer unchanged")
	}
}

func TestLimitedReader(t *testing.T) {
	t.Parallel()
	payload := bytes.Repeat([]byte("x"), 32*1024)

	// 16 KiB/s with a one-second burst: 32 KiB should take roughly a
	// second, and certainly cannot finish instantly.
	r := NewReader(bytes.NewReader(payload), PerKiB(16))

	start := time.Now()
	out, err := io.ReadAll(r)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(out) != len(payload) {
		t.Fatalf("read %d bytes, want %d", len(out), len(payload))
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("32 KiB at 16 KiB/s took %v, expected the rate cap to bite", elapsed)
	}
}

func TestLimitedWriter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf, New(16*1024))

	payload := bytes.Repeat([]byte("y"), 32*1024)
	start := time.Now()
	n, err := w.Write(payload)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Error("written bytes differ from payload")
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("32 KiB at 16 KiB/s took %v, expected the rate cap to bite", elapsed)
	}
}

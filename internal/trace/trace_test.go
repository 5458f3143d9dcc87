package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"PASS hunter2", "PASS ******"},
		{"pass hunter2", "PASS ******"},
		{"PASS ", "PASS ******"},
		{"USER alice", "USER alice"},
		{"PASSIVE", "PASSIVE"},
		{"PASV", "PASV"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTracerOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tr := New(&buf, false)

	tr.Sent("USER alice")
	tr.Sent("PASS hunter2")
	tr.Received("230 Logged in")
	tr.Note("discarded %d stale bytes", 7)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"C> USER alice",
		"C> PASS ******",
		"S> 230 Logged in",
		"-- discarded 7 stale bytes",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTracerNil(t *testing.T) {
	t.Parallel()
	if tr := New(nil, true); tr != nil {
		t.Fatal("New(nil) must return a nil tracer")
	}

	// A nil tracer discards everything without panicking.
	var tr *Tracer
	tr.Sent("USER alice")
	tr.Received("230 OK")
	tr.Note("noted")
}

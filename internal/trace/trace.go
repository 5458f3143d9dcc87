// Package trace writes the raw FTP conversation to a sink for
// debugging, one line per command or reply, optionally colorized.
//
// PASS arguments never reach the sink.
package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Tracer tees the control-connection conversation to a writer. A nil
// *Tracer is valid and discards everything.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer

	client func(format string, a ...interface{}) string
	server func(format string, a ...interface{}) string
	note   func(format string, a ...interface{}) string
}

// New returns a Tracer writing to w. Returns nil when w is nil.
func New(w io.Writer, colorize bool) *Tracer {
	if w == nil {
		return nil
	}
	t := &Tracer{
		w:      w,
		client: fmt.Sprintf,
		server: fmt.Sprintf,
		note:   fmt.Sprintf,
	}
	if colorize {
		t.client = color.HiCyanString
		t.server = color.HiYellowString
		t.note = color.HiMagentaString
	}
	return t
}

// Sent records a command line going to the server.
func (t *Tracer) Sent(line string) {
	if t == nil {
		return
	}
	t.emit(t.client("C> %s", Redact(line)))
}

// Received records a reply line coming from the server.
func (t *Tracer) Received(line string) {
	if t == nil {
		return
	}
	t.emit(t.server("S> %s", line))
}

// Note records an out-of-band event, e.g. discarded stale bytes.
func (t *Tracer) Note(format string, a ...interface{}) {
	if t == nil {
		return
	}
	t.emit(t.note("-- "+format, a...))
}

func (t *Tracer) emit(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, s)
}

// Redact hides the argument of a PASS command.
func Redact(line string) string {
	if len(line) >= 5 && strings.EqualFold(line[:5], "PASS ") {
		return "PASS ******"
	}
	return line
}

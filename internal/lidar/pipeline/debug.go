package pipeline

import (
	"io"
	"log"
)

// Mapper output goes to three streams: ops for dropped or damaged frames,
// diag for the per-frame summary line and trace for anything noisier.
var ops, diag, trace *log.Logger

// SetLogWriters points the mapper's ops, diag and trace streams at the given
// writers. A nil writer silences its stream.
func SetLogWriters(opsW, diagW, traceW io.Writer) {
	ops = streamLogger(opsW)
	diag = streamLogger(diagW)
	trace = streamLogger(traceW)
}

func streamLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[pipeline] ", log.LstdFlags|log.Lmicroseconds)
}

func logTo(l *log.Logger, format string, args []interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

func opsf(format string, args ...interface{})   { logTo(ops, format, args) }
func diagf(format string, args ...interface{})  { logTo(diag, format, args) }
func tracef(format string, args ...interface{}) { logTo(trace, format, args) }

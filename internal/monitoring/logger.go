// Package monitoring holds the mapper's replaceable diagnostic logger and
// its per-stage timing statistics.
package monitoring

import "log"

// Logf receives warnings from shared infrastructure such as SpanStats.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger redirects Logf. nil discards all output.
func SetLogger(f func(format string, v ...interface{})) {
	if f != nil {
		Logf = f
		return
	}
	Logf = func(string, ...interface{}) {}
}

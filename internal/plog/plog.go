// Package plog is Photon's ambient logger. Like the teacher it replaces,
// it writes bracketed, component-tagged lines to stderr with fmt rather
// than pulling in a structured logging library — the teacher carries none,
// and three log levels across a handful of components don't justify one.
package plog

import (
	"fmt"
	"os"
)

// Debug is gated on PHOTON_DEBUG=1, mirroring the teacher's SIFT_DEBUG gate.
var debugEnabled = os.Getenv("PHOTON_DEBUG") == "1"

// Logger is a tagged stderr writer, e.g. plog.New("batch") -> "[batch] ...".
type Logger struct {
	tag string
}

// New returns a Logger that prefixes every line with "[tag] ".
func New(tag string) Logger {
	return Logger{tag: tag}
}

func (l Logger) Infof(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] "+format+"\n", append([]interface{}{l.tag}, args...)...)
}

func (l Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] warning: "+format+"\n", append([]interface{}{l.tag}, args...)...)
}

func (l Logger) Debugf(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] debug: "+format+"\n", append([]interface{}{l.tag}, args...)...)
}

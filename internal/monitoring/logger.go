// Package monitoring holds the replaceable diagnostic logger shared by the
// analysis engines. Keeping it behind a function variable lets tests mute it
// and lets binaries redirect it without threading a logger through every
// constructor.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Package logx is a thin wrapper over the standard log package giving
// the orchestrator leveled, prefixed output.
package logx

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// Infof logs an informational line.
func Infof(format string, args ...any) {
	std.Printf("INFO  "+format, args...)
}

// Warnf logs a recoverable condition.
func Warnf(format string, args ...any) {
	std.Printf("WARN  "+format, args...)
}

// Errorf logs a failure that aborts the current operation.
func Errorf(format string, args ...any) {
	std.Printf("ERROR "+format, args...)
}

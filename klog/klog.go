// Package klog is the kernel's structured logging facade: a package-level
// global logger, following the same design the teacher's logging.go uses
// ("logging is an infrastructure cross-cutting concern... package-level
// global variable is appropriate"), but backed by a real structured
// logging library (logiface + stumpy) instead of a hand-rolled Logger
// interface and LogEntry struct.
package klog

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the type every kernel component logs through.
type Logger = *logiface.Logger[*stumpy.Event]

var (
	mu      sync.RWMutex
	current Logger
)

func init() {
	current = New(os.Stderr)
}

// New builds a stumpy-backed structured logger writing newline-delimited
// JSON to w: stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(w))).
func New(w io.Writer) Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
}

// SetGlobal installs the logger every kernel component logs through by
// default. Loggers already captured from Global (transport.ListenUDP
// captures one when it is called) are not affected.
func SetGlobal(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Global returns the current package-level logger.
func Global() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

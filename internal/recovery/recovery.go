// internal/recovery/recovery.go
// Package recovery turns panics in main or in long-running goroutines into a
// logged stack trace and a non-zero exit.
package recovery

import (
	"log"
	"os"
	"runtime/debug"
)

// exit is replaced in tests
var exit = os.Exit

// HandlePanic should be deferred at the top of main().
func HandlePanic() {
	if r := recover(); r != nil {
		fatal(r)
	}
}

// HandlePanicFunc should be deferred at the top of a goroutine. cleanup runs
// after the panic is logged and before the process exits, so shutdown hooks
// such as closing a session or stopping a capture device still happen.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r)
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

// Go runs fn on a new goroutine guarded by HandlePanicFunc
func Go(fn func(), cleanup func()) {
	go func() {
		defer HandlePanicFunc(cleanup)
		fn()
	}()
}

func fatal(r any) {
	report(r)
	exit(1)
}

func report(r any) {
	log.Printf("FATAL: %v\n\nStack trace:\n%s", r, debug.Stack())
}

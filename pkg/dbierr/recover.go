package dbierr

import (
	"log/slog"
	"os"
)

// Recover is installed around every runtime callback the core is invoked
// from. An InvariantViolation panic is logged with its full stack and
// aborts the process, per the propagation policy: invariant violations are
// never recoverable. Any other panic value is re-raised unchanged — this
// package only owns the invariant-violation contract, not general panic
// recovery.
func Recover(logger *slog.Logger) {
	r := recover()
	if r == nil {
		return
	}

	if e, ok := r.(*Error); ok && e.Kind == InvariantViolation {
		logger.Error("invariant violation, aborting",
			"op", e.Op,
			"frame", e.Frame,
			"cause", e.Cause,
			"stack", string(e.Stack))
		os.Exit(2)
	}

	panic(r)
}

// Package dbierr implements the error taxonomy of the instrumentation core:
// a fixed set of error kinds, each carrying the call site that raised it
// and, for every kind but InvariantViolation, a captured stack trace.
package dbierr

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
)

// Kind identifies one of the error categories the core can raise.
type Kind int

const (
	RuntimeError Kind = iota
	TargetError
	DecodeError
	LiftError
	LoweringError
	CodegenError
	LoaderError
	CacheMiss
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case RuntimeError:
		return "runtime-error"
	case TargetError:
		return "target-error"
	case DecodeError:
		return "decode-error"
	case LiftError:
		return "lift-error"
	case LoweringError:
		return "lowering-error"
	case CodegenError:
		return "codegen-error"
	case LoaderError:
		return "loader-error"
	case CacheMiss:
		return "cache-miss"
	case InvariantViolation:
		return "invariant-violation"
	default:
		return "unknown-error"
	}
}

// Sentinels, one per kind, so callers can do errors.Is(err, dbierr.ErrCacheMiss).
var (
	ErrRuntimeError       = errors.New(RuntimeError.String())
	ErrTargetError        = errors.New(TargetError.String())
	ErrDecodeError        = errors.New(DecodeError.String())
	ErrLiftError          = errors.New(LiftError.String())
	ErrLoweringError      = errors.New(LoweringError.String())
	ErrCodegenError       = errors.New(CodegenError.String())
	ErrLoaderError        = errors.New(LoaderError.String())
	ErrCacheMiss          = errors.New(CacheMiss.String())
	ErrInvariantViolation = errors.New(InvariantViolation.String())
)

func sentinel(k Kind) error {
	switch k {
	case RuntimeError:
		return ErrRuntimeError
	case TargetError:
		return ErrTargetError
	case DecodeError:
		return ErrDecodeError
	case LiftError:
		return ErrLiftError
	case LoweringError:
		return ErrLoweringError
	case CodegenError:
		return ErrCodegenError
	case LoaderError:
		return ErrLoaderError
	case CacheMiss:
		return ErrCacheMiss
	default:
		return ErrInvariantViolation
	}
}

// Error is the concrete error type every fallible core operation returns.
// It wraps a sentinel (so errors.Is still works against the Kind), the call
// site that raised it, and optionally the cause and a stack trace.
type Error struct {
	Kind  Kind
	Op    string // component/operation, e.g. "lift.Disassemble"
	Frame string // file:line of the call to New/Violation
	Cause error
	Stack []byte // set by New for every kind but InvariantViolation, and by Violation
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s): %v", sentinel(e.Kind), e.Op, e.Frame, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s)", sentinel(e.Kind), e.Op, e.Frame)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool { return target == sentinel(e.Kind) }

func frame(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// New builds an error of the given kind for operation op, wrapping cause
// (which may be nil). Every kind but InvariantViolation captures a stack
// trace at the call site.
func New(kind Kind, op string, cause error) *Error {
	e := &Error{Kind: kind, Op: op, Frame: frame(1), Cause: cause}
	if kind != InvariantViolation {
		e.Stack = debug.Stack()
	}
	return e
}

// Newf is New with a formatted cause message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// Violation panics with an InvariantViolation error carrying a stack trace.
// Per the error taxonomy, invariant violations are always fatal: callers
// must not attempt to recover from them except at the top-level Recover
// boundary, which aborts the process.
func Violation(op, format string, args ...any) {
	panic(&Error{
		Kind:  InvariantViolation,
		Op:    op,
		Frame: frame(1),
		Cause: fmt.Errorf(format, args...),
		Stack: debug.Stack(),
	})
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return errors.Is(err, sentinel(k))
}

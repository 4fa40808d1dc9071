package rcgc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's non-fatal, recoverable API surface
// (constructors and option application). Runtime invariant violations use
// FatalError instead, since §7 treats them as programmer/runtime-corruption
// errors, not something a caller can recover from.
var (
	// ErrInvalidThreshold is returned by WithCollectorThreshold for a
	// negative threshold.
	ErrInvalidThreshold = errors.New("rcgc: collector threshold must be >= 0")

	// ErrInvalidConcurrency is returned by WithFinalizerConcurrency for a
	// non-positive value.
	ErrInvalidConcurrency = errors.New("rcgc: finalizer concurrency must be > 0")

	// ErrNilLogger is returned by WithLogger when passed a nil logger.
	ErrNilLogger = errors.New("rcgc: logger must not be nil")

	// ErrEngineClosed names the shut-down state. No function in this
	// package returns it: Mutator and handle operations report no errors,
	// before or after Engine.Shutdown.
	ErrEngineClosed = errors.New("rcgc: engine is shut down")
)

// FatalErrorKind classifies the class of runtime-invariant violation a
// FatalError represents. These mirror §7's fatal conditions.
type FatalErrorKind int

const (
	// FatalAllocatorExhausted indicates the mmap-backed allocator could
	// not grow (out of address space, or the platform refused the
	// mapping).
	FatalAllocatorExhausted FatalErrorKind = iota
	// FatalCountUnderflow indicates a decrement drove an object's count
	// below zero, which can only mean the token queues were corrupted.
	FatalCountUnderflow
	// FatalScanAfterFree indicates scan() or copy() observed an object
	// header that the allocator believes is on a free list. No check in
	// this package raises it.
	FatalScanAfterFree
	// FatalLiveCountMismatch indicates that at shutdown, live !=
	// allocated - freed.
	FatalLiveCountMismatch
)

func (k FatalErrorKind) String() string {
	switch k {
	case FatalAllocatorExhausted:
		return "allocator exhausted"
	case FatalCountUnderflow:
		return "count underflow"
	case FatalScanAfterFree:
		return "scan after free"
	case FatalLiveCountMismatch:
		return "live count mismatch"
	default:
		return "unknown"
	}
}

// FatalError is the typed panic value raised when a runtime invariant from
// §7 is violated: count underflow on the collector goroutine, a failed
// extra-bytes mmap on the allocating mutator's goroutine, and a live-count
// mismatch on the goroutine calling Engine.Shutdown.
type FatalError struct {
	Kind    FatalErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rcgc: fatal: %s", e.Kind)
	}
	return fmt.Sprintf("rcgc: fatal: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any, for use with errors.Is/As.
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *FatalError with the same Kind; any other
// target does not match.
func (e *FatalError) Is(target error) bool {
	var fe *FatalError
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}

// fatal panics with a *FatalError of the given kind, on whichever goroutine
// detects the violation (see FatalError), matching the original's "fatal in
// debug builds" framing (gated by engineOptions.debugChecks, set through
// WithDebugChecks, where the check itself is optional).
func fatal(kind FatalErrorKind, format string, args ...any) {
	panic(&FatalError{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

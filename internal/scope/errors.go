package scope

import (
	"errors"
	"fmt"
)

var (
	// ErrNoScope is returned by Require when the context carries no scope.
	ErrNoScope = errors.New("no active scope")

	// ErrCancelled is reported by Handle.Err once the scope is cancelled.
	ErrCancelled = errors.New("scope cancelled")
)

// errMissingScope is what Require hands back. The message names the fix so
// the failure surfaces at the point of misuse instead of further down.
var errMissingScope = fmt.Errorf("%w: call inside scope.Run, or restore a captured store with scope.RunWith", ErrNoScope)

// IsNoScope reports whether err is (or wraps) ErrNoScope.
func IsNoScope(err error) bool {
	return errors.Is(err, ErrNoScope)
}

// CallbackPanicError describes a cancellation callback that panicked.
//
// Cancel recovers the panic, reports it to the scope's Observer and moves
// on to the next callback. It is never returned to the caller of Cancel.
type CallbackPanicError struct {
	// ScopeID identifies the cancelled scope.
	ScopeID string

	// Index is the callback's position in registration order.
	Index int

	// Value is the recovered panic value.
	Value any

	// Stack is the goroutine stack captured at recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("cancel callback %d panicked (scope=%s): %v", e.Index, e.ScopeID, e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *CallbackPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsCallbackPanic returns true if err is a recovered cancel callback panic.
// Uses errors.As to handle wrapped errors.
func IsCallbackPanic(err error) bool {
	var pe *CallbackPanicError
	return errors.As(err, &pe)
}

// Package testutil provides deterministic helpers for tests that drive
// scopes: a lifecycle recorder and fixed scope IDs.
package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/ambient/internal/scope"
)

// Recorder is a scope.Observer that keeps every lifecycle notification as
// a short string, e.g. "started s-1" or "callback_failed s-1#0: boom".
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu     sync.Mutex
	events []string
	panics []*scope.CallbackPanicError
}

var _ scope.Observer = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *Recorder) ScopeStarted(id string) {
	r.add("started %s", id)
}

func (r *Recorder) ScopeEnded(id string, err error) {
	if err != nil {
		r.add("ended %s: %v", id, err)
		return
	}
	r.add("ended %s", id)
}

func (r *Recorder) ScopeCloned(parentID, childID string) {
	r.add("cloned %s -> %s", parentID, childID)
}

func (r *Recorder) ScopeCancelled(id string, callbacks int) {
	r.add("cancelled %s (%d)", id, callbacks)
}

func (r *Recorder) CallbackFailed(err *scope.CallbackPanicError) {
	r.mu.Lock()
	r.panics = append(r.panics, err)
	r.mu.Unlock()
	r.add("callback_failed %s#%d: %v", err.ScopeID, err.Index, err.Value)
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Panics returns the recovered callback panics in arrival order.
func (r *Recorder) Panics() []*scope.CallbackPanicError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*scope.CallbackPanicError(nil), r.panics...)
}

// Reset clears everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.panics = nil
}

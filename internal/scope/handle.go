package scope

import "context"

// Handle is a stateless view over a Store.
//
// Handles are small values; copy them freely. Two handles over the same
// Store behave identically. The zero Handle refers to no Store and must not
// be used; Current reports that case with ok == false.
type Handle struct {
	s *Store
}

// ID returns the scope identifier.
func (h Handle) ID() string { return h.s.id }

// Store returns the backing Store, for rebinding later with RunWith.
func (h Handle) Store() *Store { return h.s }

// Get returns the value for key, or nil if the key is unset. A key that was
// explicitly set to nil also reads as nil; use Has or Lookup to tell the two
// apart.
func (h Handle) Get(key string) any {
	v, _ := h.s.lookup(key)
	return v
}

// Lookup returns the value for key along with whether it was set.
func (h Handle) Lookup(key string) (any, bool) {
	return h.s.lookup(key)
}

// Has reports whether key was explicitly set, whatever its value.
func (h Handle) Has(key string) bool {
	_, ok := h.s.lookup(key)
	return ok
}

// Set stores val under key. Writes stay allowed after cancellation.
func (h Handle) Set(key string, val any) {
	h.s.set(key, val)
}

// Delete removes key and reports whether it was present.
func (h Handle) Delete(key string) bool {
	return h.s.remove(key)
}

// GetAll returns a shallow copy of every entry. Mutating the copy never
// affects the scope.
func (h Handle) GetAll() Data {
	return h.s.snapshot()
}

// Len returns the number of entries.
func (h Handle) Len() int {
	return h.s.size()
}

// IsCancelled reports whether Cancel has been called.
func (h Handle) IsCancelled() bool {
	return h.s.isCancelled()
}

// Done returns a channel that is closed when the scope is cancelled.
func (h Handle) Done() <-chan struct{} {
	return h.s.done
}

// Err returns ErrCancelled once the scope is cancelled, nil before.
func (h Handle) Err() error {
	if h.s.isCancelled() {
		return ErrCancelled
	}
	return nil
}

// OnCancel registers fn to run when the scope is cancelled. Distinct
// callbacks run in registration order. If the scope is already cancelled,
// fn runs before OnCancel returns.
//
// The returned stop func unregisters fn if it has not run yet and reports
// whether it did so.
func (h Handle) OnCancel(fn func()) (stop func() bool) {
	return h.s.onCancel(fn)
}

// Cancel signals cancellation. It is cooperative: running work is never
// interrupted, it observes the signal through IsCancelled, Done or its
// OnCancel callbacks. Calls after the first are no-ops.
func (h Handle) Cancel() {
	h.s.cancel()
}

// CancelWhenDone cancels the scope when ctx is done, e.g. when an inbound
// request is aborted or hits its deadline. stop detaches the link.
func (h Handle) CancelWhenDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, h.s.cancel)
}

// Clone derives a new, independent scope seeded with a copy of this scope's
// data merged with extra (extra wins on conflict). The clone starts active
// with no callbacks; cancelling either side never affects the other.
func (h Handle) Clone(extra Data) Handle {
	return Handle{s: h.s.clone(extra)}
}

// Value returns the value for key asserted to T. ok is false if the key is
// unset or holds a value of another type.
func Value[T any](h Handle, key string) (T, bool) {
	v, ok := h.s.lookup(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

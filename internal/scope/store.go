package scope

import (
	"runtime/debug"
	"sync"
)

// Data is the key/value payload of a scope.
type Data map[string]any

type callback struct {
	seq int
	fn  func()
}

// Store is the mutable state owned by one scope: its data, its cancelled
// flag and its pending cancel callbacks.
//
// A Store is allocated by Registry.Run and never shared with another Run.
// Code holds it only through a Handle, or as a *Store captured with
// Handle.Store to be rebound later with RunWith.
//
// Goroutines started inside a scope may touch the Store in parallel, so all
// state is guarded by mu. Callbacks are always invoked with mu released.
type Store struct {
	id  string
	reg *Registry

	mu        sync.Mutex
	data      Data
	cancelled bool
	done      chan struct{}
	callbacks []callback
	nextSeq   int
}

func newStore(reg *Registry, id string, seed Data) *Store {
	data := make(Data, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &Store{
		id:   id,
		reg:  reg,
		data: data,
		done: make(chan struct{}),
	}
}

// ID returns the scope identifier assigned at creation.
func (s *Store) ID() string { return s.id }

func (s *Store) lookup(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) set(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
}

func (s *Store) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	return true
}

func (s *Store) snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Data, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *Store) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Store) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// onCancel registers fn, or runs it right away if the store is already
// cancelled. The returned stop func removes a still-pending registration.
func (s *Store) onCancel(fn func()) (stop func() bool) {
	if fn == nil {
		return func() bool { return false }
	}

	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	if s.cancelled {
		s.mu.Unlock()
		s.invoke(seq, fn)
		return func() bool { return false }
	}
	s.callbacks = append(s.callbacks, callback{seq: seq, fn: fn})
	s.mu.Unlock()

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cb := range s.callbacks {
			if cb.seq != seq {
				continue
			}
			last := len(s.callbacks) - 1
			copy(s.callbacks[i:], s.callbacks[i+1:])
			s.callbacks[last] = callback{}
			s.callbacks = s.callbacks[:last]
			return true
		}
		return false
	}
}

// cancel moves the store to its terminal state. Only the first call does
// anything: it flips the flag, closes done, then runs every pending
// callback once, in registration order, each isolated from the others'
// panics. The pending list is detached before dispatch so the closures are
// released once cancel returns.
func (s *Store) cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	close(s.done)
	pending := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	s.reg.observer.ScopeCancelled(s.id, len(pending))
	for i := range pending {
		s.invoke(pending[i].seq, pending[i].fn)
		pending[i] = callback{}
	}
}

func (s *Store) invoke(seq int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.reg.observer.CallbackFailed(&CallbackPanicError{
				ScopeID: s.id,
				Index:   seq,
				Value:   r,
				Stack:   debug.Stack(),
			})
		}
	}()
	fn()
}

// clone forks an independent store: data is copied and merged with extra
// (extra wins), cancellation state starts fresh.
func (s *Store) clone(extra Data) *Store {
	seed := s.snapshot()
	for k, v := range extra {
		seed[k] = v
	}
	c := newStore(s.reg, s.reg.gen.Generate(), seed)
	s.reg.observer.ScopeCloned(s.id, c.id)
	return c
}

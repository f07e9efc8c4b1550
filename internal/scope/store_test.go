package scope

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a thread-safe Observer that keeps every notification.
type recorder struct {
	mu        sync.Mutex
	started   []string
	ended     map[string]error
	cloned    [][2]string
	cancelled map[string]int
	failures  []*CallbackPanicError
}

func newRecorder() *recorder {
	return &recorder{
		ended:     make(map[string]error),
		cancelled: make(map[string]int),
	}
}

func (r *recorder) ScopeStarted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *recorder) ScopeEnded(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[id] = err
}

func (r *recorder) ScopeCloned(parentID, childID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cloned = append(r.cloned, [2]string{parentID, childID})
}

func (r *recorder) ScopeCancelled(id string, callbacks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[id] = callbacks
}

func (r *recorder) CallbackFailed(err *CallbackPanicError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func testRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	rec := newRecorder()
	return NewRegistry(WithObserver(rec), WithIDGenerator(NewSequenceGenerator("test"))), rec
}

func newTestStore(t *testing.T, seed Data) (*Store, *recorder) {
	t.Helper()
	reg, rec := testRegistry(t)
	return newStore(reg, reg.gen.Generate(), seed), rec
}

func TestStore_SeedIsCopied(t *testing.T) {
	seed := Data{"a": 1}
	s, _ := newTestStore(t, seed)

	seed["a"] = 2
	seed["b"] = 3

	v, ok := s.lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, v, "store must not alias the seed map")
	_, ok = s.lookup("b")
	assert.False(t, ok)
}

func TestStore_Cancel_RunsCallbacksInOrder(t *testing.T) {
	s, rec := newTestStore(t, nil)

	var order []int
	for i := 0; i < 5; i++ {
		s.onCancel(func() { order = append(order, i) })
	}

	s.cancel()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 5, rec.cancelled[s.id])
}

func TestStore_Cancel_Idempotent(t *testing.T) {
	s, _ := newTestStore(t, nil)

	calls := 0
	s.onCancel(func() { calls++ })

	s.cancel()
	s.cancel()
	s.cancel()

	assert.Equal(t, 1, calls, "each callback runs exactly once")
	assert.True(t, s.isCancelled())
}

func TestStore_Cancel_ClearsPending(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.onCancel(func() {})
	s.onCancel(func() {})

	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Nil(t, s.callbacks, "pending callbacks must be released after dispatch")
}

func TestStore_Cancel_ClosesDone(t *testing.T) {
	s, _ := newTestStore(t, nil)

	select {
	case <-s.done:
		t.Fatal("done closed before cancel")
	default:
	}

	s.cancel()

	select {
	case <-s.done:
	default:
		t.Fatal("done not closed after cancel")
	}
}

func TestStore_CallbackPanicIsolated(t *testing.T) {
	s, rec := newTestStore(t, nil)

	cb2Called := false
	s.onCancel(func() { panic("boom") })
	s.onCancel(func() { cb2Called = true })

	assert.NotPanics(t, s.cancel)
	assert.True(t, cb2Called, "a panicking callback must not stop later ones")

	require.Len(t, rec.failures, 1)
	failure := rec.failures[0]
	assert.Equal(t, s.id, failure.ScopeID)
	assert.Equal(t, 0, failure.Index)
	assert.Equal(t, "boom", failure.Value)
	assert.NotEmpty(t, failure.Stack)
}

func TestStore_CallbackPanicWithError(t *testing.T) {
	s, rec := newTestStore(t, nil)
	sentinel := errors.New("cleanup failed")

	s.onCancel(func() { panic(sentinel) })
	s.cancel()

	require.Len(t, rec.failures, 1)
	assert.ErrorIs(t, rec.failures[0], sentinel)
	assert.True(t, IsCallbackPanic(rec.failures[0]))
}

func TestStore_OnCancel_AfterCancelRunsImmediately(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.cancel()

	calls := 0
	stop := s.onCancel(func() { calls++ })

	assert.Equal(t, 1, calls, "late registration runs synchronously")
	assert.False(t, stop(), "nothing left to unregister")

	s.cancel()
	assert.Equal(t, 1, calls)
}

func TestStore_OnCancel_Stop(t *testing.T) {
	s, rec := newTestStore(t, nil)

	var order []string
	s.onCancel(func() { order = append(order, "a") })
	stopB := s.onCancel(func() { order = append(order, "b") })
	s.onCancel(func() { order = append(order, "c") })

	assert.True(t, stopB())
	assert.False(t, stopB(), "second stop is a no-op")

	s.cancel()
	assert.Equal(t, []string{"a", "c"}, order)
	assert.Equal(t, 2, rec.cancelled[s.id])
}

func TestStore_OnCancel_Nil(t *testing.T) {
	s, rec := newTestStore(t, nil)

	stop := s.onCancel(nil)
	assert.False(t, stop())

	s.cancel()
	assert.Equal(t, 0, rec.cancelled[s.id])
	assert.Empty(t, rec.failures)
}

func TestStore_CallbackCancelReentrant(t *testing.T) {
	s, _ := newTestStore(t, nil)

	calls := 0
	s.onCancel(func() {
		calls++
		s.cancel()
	})
	s.onCancel(func() { calls++ })

	s.cancel()
	assert.Equal(t, 2, calls)
}

func TestStore_CallbackRegistersDuringDispatch(t *testing.T) {
	s, _ := newTestStore(t, nil)

	var order []string
	s.onCancel(func() {
		order = append(order, "outer")
		s.onCancel(func() { order = append(order, "inner") })
	})
	s.onCancel(func() { order = append(order, "second") })

	s.cancel()
	assert.Equal(t, []string{"outer", "inner", "second"}, order)
}

func TestStore_SetAfterCancel(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.cancel()

	s.set("k", "v")
	v, ok := s.lookup("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t, nil)
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%26))
			s.set(key, i)
			s.lookup(key)
			s.snapshot()
			s.onCancel(func() {})
			if i%10 == 0 {
				s.cancel()
			}
		}()
	}
	wg.Wait()

	assert.True(t, s.isCancelled())
}

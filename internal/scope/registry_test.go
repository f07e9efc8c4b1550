package scope

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_BindsSeededStore(t *testing.T) {
	reg, _ := testRegistry(t)

	err := reg.Run(context.Background(), Data{"id": "A"}, func(ctx context.Context) error {
		h, ok := Current(ctx)
		require.True(t, ok)
		assert.Equal(t, "A", h.Get("id"))
		assert.True(t, HasScope(ctx))
		return nil
	})
	require.NoError(t, err)
}

func TestRun_InitialDataIsCopied(t *testing.T) {
	reg, _ := testRegistry(t)
	initial := Data{"id": "A"}

	err := reg.Run(context.Background(), initial, func(ctx context.Context) error {
		MustCurrent(ctx).Set("id", "changed")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "A", initial["id"])
}

// Two scopes whose steps interleave: A writes, B writes, A reads, B reads.
// Each must only ever observe its own value.
func TestRun_InterleavedScopesAreIsolated(t *testing.T) {
	reg, _ := testRegistry(t)

	aWrote := make(chan struct{})
	bWrote := make(chan struct{})
	aRead := make(chan struct{})

	errs := make(chan error, 2)

	go func() {
		errs <- reg.Run(context.Background(), Data{"id": "A"}, func(ctx context.Context) error {
			MustCurrent(ctx).Set("step", "A1")
			close(aWrote)
			<-bWrote
			h := MustCurrent(ctx)
			if h.Get("id") != "A" || h.Get("step") != "A1" {
				return errors.New("A observed foreign data")
			}
			close(aRead)
			return nil
		})
	}()

	go func() {
		errs <- reg.Run(context.Background(), Data{"id": "B"}, func(ctx context.Context) error {
			<-aWrote
			MustCurrent(ctx).Set("step", "B1")
			close(bWrote)
			<-aRead
			h := MustCurrent(ctx)
			if h.Get("id") != "B" || h.Get("step") != "B1" {
				return errors.New("B observed foreign data")
			}
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("scopes did not finish")
		}
	}
}

func TestRun_ManyConcurrentScopes(t *testing.T) {
	reg, _ := testRegistry(t)
	const scopes = 100

	var failures atomic.Int64
	done := make(chan struct{})
	for i := 0; i < scopes; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = reg.Run(context.Background(), Data{"n": i}, func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				if MustCurrent(ctx).Get("n") != i {
					failures.Add(1)
				}
				return nil
			})
		}()
	}
	for i := 0; i < scopes; i++ {
		<-done
	}
	assert.Zero(t, failures.Load())
}

func TestRun_NestedScopeDoesNotInherit(t *testing.T) {
	reg, _ := testRegistry(t)

	err := reg.Run(context.Background(), Data{"a": 1}, func(outer context.Context) error {
		err := reg.Run(outer, Data{"b": 2}, func(inner context.Context) error {
			h := MustCurrent(inner)
			assert.False(t, h.Has("a"))
			assert.Equal(t, 2, h.Get("b"))
			return nil
		})
		require.NoError(t, err)

		h := MustCurrent(outer)
		assert.Equal(t, 1, h.Get("a"))
		assert.False(t, h.Has("b"), "inner writes stay in the inner scope")
		return nil
	})
	require.NoError(t, err)
}

func TestRun_NestedCancelDoesNotCascade(t *testing.T) {
	reg, _ := testRegistry(t)

	err := reg.Run(context.Background(), nil, func(outer context.Context) error {
		_ = reg.Run(outer, nil, func(inner context.Context) error {
			MustCurrent(inner).Cancel()
			return nil
		})
		assert.False(t, MustCurrent(outer).IsCancelled())
		return nil
	})
	require.NoError(t, err)
}

func TestRun_ReturnsOperationErrorUnmodified(t *testing.T) {
	reg, rec := testRegistry(t)
	sentinel := errors.New("op failed")

	err := reg.Run(context.Background(), nil, func(context.Context) error {
		return sentinel
	})
	assert.Same(t, sentinel, err)
	require.Len(t, rec.started, 1)
	assert.Same(t, sentinel, rec.ended[rec.started[0]])
}

func TestRun_PanicPropagates(t *testing.T) {
	reg, rec := testRegistry(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = reg.Run(context.Background(), nil, func(context.Context) error {
			panic("kaboom")
		})
	})
	require.Len(t, rec.started, 1)
	assert.ErrorIs(t, rec.ended[rec.started[0]], errPanicked)
}

func TestRun_ObserverLifecycle(t *testing.T) {
	reg, rec := testRegistry(t)

	err := reg.Run(context.Background(), nil, func(ctx context.Context) error {
		h := MustCurrent(ctx)
		assert.Equal(t, "test-1", h.ID())
		h.OnCancel(func() {})
		h.Cancel()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"test-1"}, rec.started)
	assert.Contains(t, rec.ended, "test-1")
	assert.Nil(t, rec.ended["test-1"])
	assert.Equal(t, 1, rec.cancelled["test-1"])
}

func TestRun_WaitsForGoroutines(t *testing.T) {
	reg, _ := testRegistry(t)

	var finished atomic.Bool
	err := reg.Run(context.Background(), Data{"id": "A"}, func(ctx context.Context) error {
		Go(ctx, func(ctx context.Context) {
			time.Sleep(10 * time.Millisecond)
			assert.Equal(t, "A", MustCurrent(ctx).Get("id"))
			Go(ctx, func(context.Context) {
				time.Sleep(5 * time.Millisecond)
				finished.Store(true)
			})
		})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, finished.Load(), "Run returns only after spawned goroutines settle")
}

func TestGo_AfterRunReturned(t *testing.T) {
	reg, _ := testRegistry(t)

	var captured context.Context
	require.NoError(t, reg.Run(context.Background(), Data{"id": "A"}, func(ctx context.Context) error {
		captured = ctx
		return nil
	}))

	release := make(chan struct{})
	seen := make(chan any, 1)
	Go(captured, func(ctx context.Context) {
		<-release
		seen <- MustCurrent(ctx).Get("id")
	})
	close(release)

	select {
	case id := <-seen:
		assert.Equal(t, "A", id)
	case <-time.After(time.Second):
		t.Fatal("goroutine never ran")
	}
}

func TestGo_FromTimerWhileRunWaits(t *testing.T) {
	reg, _ := testRegistry(t)

	fired := make(chan struct{})
	late := make(chan any, 1)
	err := reg.Run(context.Background(), Data{"id": "A"}, func(ctx context.Context) error {
		Go(ctx, func(context.Context) { <-fired })
		time.AfterFunc(time.Millisecond, func() {
			Go(ctx, func(ctx context.Context) { late <- MustCurrent(ctx).Get("id") })
			close(fired)
		})
		return nil
	})
	require.NoError(t, err)

	select {
	case id := <-late:
		assert.Equal(t, "A", id)
	case <-time.After(time.Second):
		t.Fatal("timer goroutine never ran")
	}
}

func TestGo_OutsideScope(t *testing.T) {
	ran := make(chan bool, 1)
	Go(context.Background(), func(ctx context.Context) {
		ran <- HasScope(ctx)
	})
	select {
	case has := <-ran:
		assert.False(t, has)
	case <-time.After(time.Second):
		t.Fatal("goroutine never ran")
	}
}

func TestRunWith_RestoresCapturedStore(t *testing.T) {
	reg, _ := testRegistry(t)

	fired := make(chan error, 1)
	err := reg.Run(context.Background(), Data{"id": "A"}, func(ctx context.Context) error {
		s := MustCurrent(ctx).Store()
		// The timer fires after Run has returned, on a goroutine that never
		// saw ctx.
		time.AfterFunc(5*time.Millisecond, func() {
			fired <- reg.RunWith(context.Background(), s, func(ctx context.Context) error {
				if MustCurrent(ctx).Get("id") != "A" {
					return errors.New("wrong scope")
				}
				return nil
			})
		})
		return nil
	})
	require.NoError(t, err)

	select {
	case err := <-fired:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestRunWith_SharesState(t *testing.T) {
	reg, _ := testRegistry(t)

	var captured *Store
	_ = reg.Run(context.Background(), nil, func(ctx context.Context) error {
		captured = MustCurrent(ctx).Store()
		return nil
	})

	_ = reg.RunWith(context.Background(), captured, func(ctx context.Context) error {
		MustCurrent(ctx).Set("late", true)
		MustCurrent(ctx).Cancel()
		return nil
	})

	h := Handle{s: captured}
	assert.Equal(t, true, h.Get("late"))
	assert.True(t, h.IsCancelled())
}

func TestRunWith_NilStore(t *testing.T) {
	reg, _ := testRegistry(t)

	called := false
	err := reg.RunWith(context.Background(), nil, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, IsNoScope(err))
	assert.False(t, called)
}

func TestNoScope(t *testing.T) {
	ctx := context.Background()

	t.Run("soft accessor", func(t *testing.T) {
		h, ok := Current(ctx)
		assert.False(t, ok)
		assert.Equal(t, Handle{}, h)
		assert.False(t, HasScope(ctx))
	})

	t.Run("strict accessor", func(t *testing.T) {
		_, err := Require(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoScope)
		assert.Contains(t, err.Error(), "scope.Run", "message names the fix")
	})

	t.Run("must accessor", func(t *testing.T) {
		assert.Panics(t, func() { MustCurrent(ctx) })
	})

	t.Run("nil context", func(t *testing.T) {
		var nilCtx context.Context
		assert.False(t, HasScope(nilCtx))
		_, ok := Current(nilCtx)
		assert.False(t, ok)
	})
}

func TestPackageRun_ReturnsResult(t *testing.T) {
	got, err := Run(context.Background(), Data{"user": "alice"}, func(ctx context.Context) (string, error) {
		user, _ := Value[string](MustCurrent(ctx), "user")
		return "hello " + user, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello alice", got)
}

func TestPackageRunWith_ReturnsResult(t *testing.T) {
	s, err := Run(context.Background(), Data{"n": 41}, func(ctx context.Context) (*Store, error) {
		return MustCurrent(ctx).Store(), nil
	})
	require.NoError(t, err)

	got, err := RunWith(context.Background(), s, func(ctx context.Context) (int, error) {
		n, _ := Value[int](MustCurrent(ctx), "n")
		return n + 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestNewRegistry_Defaults(t *testing.T) {
	reg := NewRegistry()
	assert.IsType(t, UUIDv7Generator{}, reg.gen)
	assert.IsType(t, LogObserver{}, reg.observer)
	assert.NotNil(t, Default())
}

package scope

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// errPanicked is reported to ScopeEnded when the operation panicked.
var errPanicked = errors.New("operation panicked")

// Registry allocates Stores and binds them to contexts.
//
// A Registry holds no per-scope state; it only carries the ID generator and
// Observer applied to every Store it creates (and to their clones). It is
// safe for concurrent use.
type Registry struct {
	gen      IDGenerator
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver sets the lifecycle observer. Use Observers to combine several.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger reports lifecycle events to logger through a LogObserver.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.observer = LogObserver{Logger: logger}
	}
}

// WithIDGenerator sets the scope ID generator.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) {
		if g != nil {
			r.gen = g
		}
	}
}

// NewRegistry creates a Registry. Without options it generates UUIDv7 IDs
// and logs through slog.Default().
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		gen:      UUIDv7Generator{},
		observer: LogObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the registry used by the package-level Run and RunWith.
func Default() *Registry { return defaultRegistry }

type bindingKey struct{}

// binding is what the context carries: the bound Store plus the goroutines
// started with Go during this particular Run or RunWith.
type binding struct {
	store *Store

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool // set once bind has stopped waiting
}

func newBinding(s *Store) *binding {
	b := &binding{store: s}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// track counts one more goroutine. It reports false once the binding has
// closed; such goroutines still run but nobody waits for them.
func (b *binding) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.pending++
	return true
}

func (b *binding) untrack() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending--
	if b.pending == 0 {
		b.idle.Broadcast()
	}
}

// wait blocks until every tracked goroutine has finished, then closes the
// binding so later Go calls are not tracked.
func (b *binding) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
	b.closed = true
}

// Run allocates a new Store seeded with a copy of initial, binds it to a
// context derived from ctx and calls op with that context. Goroutines op
// starts with Go are awaited before Run returns. op's error is returned
// unmodified; a panic in op propagates unchanged.
//
// Run never inherits an enclosing scope: a Run nested in another binds a
// fresh Store, and the outer data is only visible if explicitly cloned.
func (r *Registry) Run(ctx context.Context, initial Data, op func(context.Context) error) error {
	s := newStore(r, r.gen.Generate(), initial)
	r.observer.ScopeStarted(s.id)

	completed := false
	defer func() {
		if !completed {
			r.observer.ScopeEnded(s.id, errPanicked)
		}
	}()

	err := bind(ctx, s, op)
	completed = true
	r.observer.ScopeEnded(s.id, err)
	return err
}

// RunWith rebinds an existing Store, typically one captured with
// Handle.Store before crossing a boundary that does not carry ctx (a timer,
// an external event emitter, a queue consumer). It calls op with the
// rebound context and waits for its Go goroutines like Run does.
func (r *Registry) RunWith(ctx context.Context, s *Store, op func(context.Context) error) error {
	if s == nil {
		return errMissingScope
	}
	return bind(ctx, s, op)
}

func bind(parent context.Context, s *Store, op func(context.Context) error) error {
	b := newBinding(s)
	ctx := context.WithValue(parent, bindingKey{}, b)
	err := op(ctx)
	b.wait()
	return err
}

// Run is Registry.Run on the default registry, returning op's result.
func Run[R any](ctx context.Context, initial Data, op func(context.Context) (R, error)) (R, error) {
	var out R
	err := defaultRegistry.Run(ctx, initial, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

// RunWith is Registry.RunWith on the default registry, returning op's result.
func RunWith[R any](ctx context.Context, s *Store, op func(context.Context) (R, error)) (R, error) {
	var out R
	err := defaultRegistry.RunWith(ctx, s, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

func lookup(ctx context.Context) *binding {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(bindingKey{}).(*binding)
	return b
}

// Current returns a handle over the scope bound to ctx. ok is false outside
// any Run or RunWith, which is a normal state (background jobs, startup
// code) that callers must handle.
func Current(ctx context.Context) (h Handle, ok bool) {
	b := lookup(ctx)
	if b == nil {
		return Handle{}, false
	}
	return Handle{s: b.store}, true
}

// HasScope reports whether ctx carries a scope.
func HasScope(ctx context.Context) bool {
	return lookup(ctx) != nil
}

// Require is the strict form of Current: outside a scope it returns an
// error wrapping ErrNoScope.
func Require(ctx context.Context) (Handle, error) {
	b := lookup(ctx)
	if b == nil {
		return Handle{}, errMissingScope
	}
	return Handle{s: b.store}, nil
}

// MustCurrent is like Require but panics when no scope is bound.
func MustCurrent(ctx context.Context) Handle {
	h, err := Require(ctx)
	if err != nil {
		panic(err)
	}
	return h
}

// Go runs fn on a new goroutine with ctx, so fn sees the same scope. When
// ctx carries a scope, the enclosing Run or RunWith waits for fn before
// returning. A Go call made after the enclosing Run or RunWith has
// returned, for example from a timer callback that captured ctx, still
// runs fn with the same scope but is not waited for.
func Go(ctx context.Context, fn func(context.Context)) {
	b := lookup(ctx)
	if b == nil || !b.track() {
		go fn(ctx)
		return
	}
	go func() {
		defer b.untrack()
		fn(ctx)
	}()
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/ambient/internal/canonical"
	"github.com/roach88/ambient/internal/loop"
	"github.com/roach88/ambient/internal/scope"
)

// Option configures a scenario run.
type Option func(*config)

type config struct {
	observers []scope.Observer
	logger    *slog.Logger
	maxSteps  int
	idPrefix  string
}

// WithObserver adds an observer that receives every scope lifecycle event
// of the run, e.g. a journal or metrics collector.
func WithObserver(o scope.Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithLogger sets the logger for the loop and lifecycle events.
// Default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxSteps bounds the number of loop tasks.
//
// Default: loop.DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(c *config) {
		c.maxSteps = n
	}
}

// WithIDPrefix sets the prefix of generated scope IDs.
//
// Default: "scope".
func WithIDPrefix(prefix string) Option {
	return func(c *config) {
		c.idPrefix = prefix
	}
}

// runner executes one scenario. Everything runs on the loop goroutine, so
// runner state needs no locking.
type runner struct {
	scope.NopObserver

	reg    *scope.Registry
	loop   *loop.Loop
	clock  *loop.Clock
	result *Result
	labels map[string]string // scope ID → label of the chain that created it
	logger *slog.Logger

	// ends holds, per scope ID, the chains still running on the loop and a
	// ScopeEnded notification waiting for them to finish.
	ends  map[string]*pendingEnd
	gated scope.Observer
}

type pendingEnd struct {
	chains int
	ended  bool
	err    error
}

// endGate forwards lifecycle events to the run's observers, except that
// ScopeEnded waits until every chain running on that scope has finished.
// Registry.Run reports the end when op's frame returns, but scenario chains
// keep running as loop continuations after that.
type endGate struct {
	r *runner
}

func (g endGate) ScopeStarted(id string)                       { g.r.gated.ScopeStarted(id) }
func (g endGate) ScopeCloned(parentID, childID string)         { g.r.gated.ScopeCloned(parentID, childID) }
func (g endGate) ScopeCancelled(id string, callbacks int)      { g.r.gated.ScopeCancelled(id, callbacks) }
func (g endGate) CallbackFailed(err *scope.CallbackPanicError) { g.r.gated.CallbackFailed(err) }

func (g endGate) ScopeEnded(id string, err error) {
	p, ok := g.r.ends[id]
	if !ok {
		g.r.gated.ScopeEnded(id, err)
		return
	}
	p.ended, p.err = true, err
	g.r.flushEnd(id, p)
}

// beginChain counts a chain that runs on the scope id.
func (r *runner) beginChain(id string) {
	p, ok := r.ends[id]
	if !ok {
		p = &pendingEnd{}
		r.ends[id] = p
	}
	p.chains++
}

// endChain marks one chain on id as finished.
func (r *runner) endChain(id string) {
	if p, ok := r.ends[id]; ok {
		p.chains--
		r.flushEnd(id, p)
	}
}

func (r *runner) flushEnd(id string, p *pendingEnd) {
	if !p.ended || p.chains > 0 {
		return
	}
	delete(r.ends, id)
	r.gated.ScopeEnded(id, p.err)
}

// Run executes a scenario and returns its trace and failures.
//
// Each run gets a fresh registry with deterministic IDs and a fresh loop,
// so runs are isolated and reproducible. The returned error reports a run
// that could not complete (step limit); expectation and assertion failures
// are reported through Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := &config{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSteps: loop.DefaultMaxSteps,
		idPrefix: "scope",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := &runner{
		clock:  loop.NewClock(),
		result: NewResult(),
		labels: make(map[string]string),
		logger: cfg.logger,
		ends:   make(map[string]*pendingEnd),
	}
	r.gated = scope.Observers(append([]scope.Observer{scope.LogObserver{Logger: cfg.logger}}, cfg.observers...)...)
	r.reg = scope.NewRegistry(
		scope.WithIDGenerator(scope.NewSequenceGenerator(cfg.idPrefix)),
		scope.WithObserver(scope.Observers(r, endGate{r: r})),
	)
	r.loop = loop.New(loop.WithLogger(cfg.logger), loop.WithMaxSteps(cfg.maxSteps))

	ctx := context.Background()
	for _, sc := range scenario.Scopes {
		start := func(ctx context.Context) { r.start(ctx, sc) }
		if sc.StartAfter > 0 {
			r.loop.After(ctx, time.Duration(sc.StartAfter), start)
		} else {
			r.loop.Post(ctx, start)
		}
	}

	r.logger.Debug("running scenario", "name", scenario.Name, "scopes", len(scenario.Scopes))
	if err := r.loop.Run(ctx); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}
	r.result.Elapsed = r.loop.Now().Milliseconds()

	for _, msg := range EvaluateAssertions(r.result, scenario.Assertions) {
		r.result.AddError(msg)
	}
	return r.result, nil
}

// CallbackFailed records recovered cancel callback panics in the trace.
func (r *runner) CallbackFailed(err *scope.CallbackPanicError) {
	r.trace(r.labels[err.ScopeID], "callback_failed", "", fmt.Sprint(err.Value), true)
}

func (r *runner) trace(label, op, key string, value any, hasValue bool) {
	r.result.Trace = append(r.result.Trace, TraceEvent{
		Seq:      r.clock.Next(),
		At:       r.loop.Now().Milliseconds(),
		Scope:    label,
		Op:       op,
		Key:      key,
		Value:    value,
		HasValue: hasValue,
	})
}

func (r *runner) fail(label string, index int, op, format string, args ...any) {
	msg := fmt.Sprintf("%s: step %d (%s): %s", label, index, op, fmt.Sprintf(format, args...))
	r.logger.Debug("expectation failed", "scope", label, "step", index, "message", msg)
	r.result.AddError(msg)
}

// start runs a top-level scope.
func (r *runner) start(ctx context.Context, sc ScopeSpec) {
	_ = r.reg.Run(ctx, scope.Data(sc.Data), func(ctx context.Context) error {
		id := r.enter(ctx, sc.Name)
		r.beginChain(id)
		r.exec(ctx, sc.Name, sc.Steps, 0, func() {
			r.trace(sc.Name, "end", "", nil, false)
			r.endChain(id)
		})
		return nil
	})
}

// enter labels the scope bound to ctx, records the chain start and
// returns the scope ID.
func (r *runner) enter(ctx context.Context, label string) string {
	h := scope.MustCurrent(ctx)
	if _, ok := r.labels[h.ID()]; !ok {
		r.labels[h.ID()] = label
	}
	r.trace(label, "start", "", h.ID(), true)
	return h.ID()
}

// exec runs steps[i:] inline until one suspends. A suspending step
// schedules the rest of the chain as a continuation carrying ctx, and done
// runs once the last step has finished.
func (r *runner) exec(ctx context.Context, label string, steps []Step, i int, done func()) {
	resume := func(next int) loop.Task {
		return func(ctx context.Context) { r.exec(ctx, label, steps, next, done) }
	}

	for ; i < len(steps); i++ {
		st := steps[i]
		switch st.Op {
		case OpSleep:
			r.trace(label, st.Op, "", st.Duration.String(), true)
			r.loop.After(ctx, time.Duration(st.Duration), resume(i+1))
			return
		case OpYield:
			r.trace(label, st.Op, "", nil, false)
			r.loop.Post(ctx, resume(i+1))
			return
		case OpNest:
			outer, next := ctx, i+1
			r.nest(ctx, label, st, func() { r.loop.Post(outer, resume(next)) })
			return
		default:
			r.step(ctx, label, i, st)
		}
	}
	done()
}

// step executes a step that never suspends its own chain.
func (r *runner) step(ctx context.Context, label string, index int, st Step) {
	h := scope.MustCurrent(ctx)

	switch st.Op {
	case OpSet:
		h.Set(st.Key, st.Value)
		r.trace(label, st.Op, st.Key, st.Value, true)

	case OpGet:
		r.trace(label, st.Op, st.Key, h.Get(st.Key), true)

	case OpHas:
		r.trace(label, st.Op, st.Key, h.Has(st.Key), true)

	case OpDelete:
		r.trace(label, st.Op, st.Key, h.Delete(st.Key), true)

	case OpExpect:
		got, ok := h.Lookup(st.Key)
		r.trace(label, st.Op, st.Key, got, ok)
		switch {
		case st.Missing && ok:
			r.fail(label, index, st.Op, "key %q: expected missing, got %s", st.Key, canonical.String(got))
		case !st.Missing && !ok:
			r.fail(label, index, st.Op, "key %q: expected %s, got missing", st.Key, canonical.String(st.Value))
		case !st.Missing && !equal(got, st.Value):
			r.fail(label, index, st.Op, "key %q: expected %s, got %s", st.Key, canonical.String(st.Value), canonical.String(got))
		}

	case OpExpectCancelled:
		got := h.IsCancelled()
		r.trace(label, st.Op, "", got, true)
		if got != st.Cancelled {
			r.fail(label, index, st.Op, "expected cancelled=%t, got %t", st.Cancelled, got)
		}

	case OpSnapshot:
		r.trace(label, st.Op, "", map[string]any(h.GetAll()), true)

	case OpCancel:
		r.trace(label, st.Op, "", nil, false)
		h.Cancel()

	case OpCancelAfter:
		r.trace(label, st.Op, "", st.Duration.String(), true)
		r.loop.After(ctx, time.Duration(st.Duration), func(ctx context.Context) {
			r.trace(label, OpCancel, "", nil, false)
			scope.MustCurrent(ctx).Cancel()
		})

	case OpOnCancel:
		r.trace(label, st.Op, st.Label, nil, false)
		cbLabel, panics := st.Label, st.Panic
		h.OnCancel(func() {
			r.trace(label, "callback", cbLabel, nil, false)
			if panics {
				panic(cbLabel)
			}
		})

	case OpClone:
		child := h.Clone(scope.Data(st.Data))
		r.labels[child.ID()] = st.Name
		r.trace(label, st.Op, st.Name, child.ID(), true)
		r.loop.Post(ctx, func(ctx context.Context) {
			_ = r.reg.RunWith(ctx, child.Store(), func(ctx context.Context) error {
				r.enter(ctx, st.Name)
				r.exec(ctx, st.Name, st.Steps, 0, func() { r.trace(st.Name, "end", "", nil, false) })
				return nil
			})
		})

	case OpSpawn:
		r.trace(label, st.Op, st.Name, nil, false)
		r.beginChain(h.ID())
		r.loop.Post(ctx, func(ctx context.Context) {
			id := r.enter(ctx, st.Name)
			r.exec(ctx, st.Name, st.Steps, 0, func() {
				r.trace(st.Name, "end", "", nil, false)
				r.endChain(id)
			})
		})
	}
}

// nest runs st as a fresh scope inside the current chain. resume is called
// once the nested chain has finished; the caller uses it to continue with
// its own context.
func (r *runner) nest(ctx context.Context, label string, st Step, resume func()) {
	r.trace(label, st.Op, st.Name, nil, false)
	_ = r.reg.Run(ctx, scope.Data(st.Data), func(ctx context.Context) error {
		id := r.enter(ctx, st.Name)
		r.beginChain(id)
		r.exec(ctx, st.Name, st.Steps, 0, func() {
			r.trace(st.Name, "end", "", nil, false)
			r.endChain(id)
			resume()
		})
		return nil
	})
}

// equal compares two scope values by their canonical JSON encoding.
func equal(a, b any) bool {
	ca, errA := canonical.Marshal(a)
	cb, errB := canonical.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ca) == string(cb)
}

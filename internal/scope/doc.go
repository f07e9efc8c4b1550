/*
Package scope provides request-scoped state that follows a logical
operation everywhere it goes: a key/value store plus a cooperative
cancellation signal, bound to a context.Context.

# Binding

A scope is started with Run. Run allocates a fresh Store, binds it to a
context derived from the caller's, and calls the operation with that
context:

	err := reg.Run(ctx, scope.Data{"trace_id": id}, func(ctx context.Context) error {
		return handle(ctx, req)
	})

Anything that receives this ctx, directly or through any number of calls,
goroutines and callbacks, reaches the same Store with Current:

	if h, ok := scope.Current(ctx); ok {
		logger = logger.With("trace_id", h.Get("trace_id"))
	}

Because the binding travels with ctx, two operations running at the same
time never see each other's data: each holds a different ctx. A Run nested
inside another binds its own Store and does not inherit the outer data.

Current is the soft accessor; running outside a scope is a normal state.
Require (and MustCurrent) are for code that cannot work without one and
report ErrNoScope with a message that names the fix.

# Crossing boundaries

Work scheduled with ctx keeps its scope. Code that runs on a path ctx
cannot follow, such as a callback registered on an external event emitter,
captures the Store and rebinds it:

	s := scope.MustCurrent(ctx).Store()
	emitter.On("tick", func() {
		_ = reg.RunWith(context.Background(), s, onTick)
	})

Go starts a goroutine inside the scope and makes the enclosing Run wait for
it.

# Cancellation

Cancellation is cooperative and one-way. Cancel flips the scope to the
cancelled state, closes Done, and runs every OnCancel callback exactly
once, in registration order. A callback that panics is recovered and
reported to the Observer; the remaining callbacks still run. Registering
after cancellation runs the callback immediately. Nothing is ever
interrupted: operations poll IsCancelled, select on Done or react in a
callback.

There is no built-in deadline. Schedule the cancellation instead:

	t := time.AfterFunc(5*time.Second, h.Cancel)
	defer t.Stop()

or tie it to a Go context with CancelWhenDone.

# Cloning

Clone forks a scope: the clone starts with a copy of the data (plus any
extra entries) and its own cancellation state. Group builds on Clone to fan
work out so that cancelling one child never cancels its siblings.
*/
package scope

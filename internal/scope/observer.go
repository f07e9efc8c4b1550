package scope

import "log/slog"

// Observer receives scope lifecycle notifications.
//
// Implementations must be safe for concurrent use: scopes started on
// different goroutines report through the same Observer. Calls are made
// synchronously on the goroutine driving the transition, never while a
// Store's lock is held.
type Observer interface {
	// ScopeStarted is called when Run allocates and binds a new Store.
	ScopeStarted(id string)

	// ScopeEnded is called when Run's operation (and every goroutine it
	// spawned with Go) has returned. err is the operation's error. Work the
	// operation handed off some other way (timers, callbacks holding a
	// captured ctx) may still touch the Store afterwards.
	ScopeEnded(id string, err error)

	// ScopeCloned is called when Clone derives a new Store from parentID.
	ScopeCloned(parentID, childID string)

	// ScopeCancelled is called once per Store, after the cancelled flag is
	// set and before pending callbacks run. callbacks is how many will run.
	ScopeCancelled(id string, callbacks int)

	// CallbackFailed is called for every cancel callback that panicked.
	CallbackFailed(err *CallbackPanicError)
}

// LogObserver reports lifecycle events through slog.
// A nil Logger falls back to slog.Default() at call time.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o LogObserver) ScopeStarted(id string) {
	o.logger().Debug("scope started", "scope_id", id)
}

func (o LogObserver) ScopeEnded(id string, err error) {
	if err != nil {
		o.logger().Debug("scope ended", "scope_id", id, "error", err)
		return
	}
	o.logger().Debug("scope ended", "scope_id", id)
}

func (o LogObserver) ScopeCloned(parentID, childID string) {
	o.logger().Debug("scope cloned", "scope_id", childID, "parent_id", parentID)
}

func (o LogObserver) ScopeCancelled(id string, callbacks int) {
	o.logger().Info("scope cancelled", "scope_id", id, "callbacks", callbacks)
}

func (o LogObserver) CallbackFailed(err *CallbackPanicError) {
	o.logger().Error("cancel callback panicked",
		"scope_id", err.ScopeID,
		"index", err.Index,
		"panic", err.Value,
		"stack", string(err.Stack),
	)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) ScopeStarted(string)                 {}
func (NopObserver) ScopeEnded(string, error)            {}
func (NopObserver) ScopeCloned(string, string)          {}
func (NopObserver) ScopeCancelled(string, int)          {}
func (NopObserver) CallbackFailed(*CallbackPanicError) {}

// Observers fans notifications out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) ScopeStarted(id string) {
	for _, o := range m {
		o.ScopeStarted(id)
	}
}

func (m multiObserver) ScopeEnded(id string, err error) {
	for _, o := range m {
		o.ScopeEnded(id, err)
	}
}

func (m multiObserver) ScopeCloned(parentID, childID string) {
	for _, o := range m {
		o.ScopeCloned(parentID, childID)
	}
}

func (m multiObserver) ScopeCancelled(id string, callbacks int) {
	for _, o := range m {
		o.ScopeCancelled(id, callbacks)
	}
}

func (m multiObserver) CallbackFailed(err *CallbackPanicError) {
	for _, o := range m {
		o.CallbackFailed(err)
	}
}

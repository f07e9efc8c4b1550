package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ambient/internal/scope"
)

// Observer returns a scope.Observer that records every lifecycle event.
// Observer methods cannot return errors, so a failed write is logged to
// logger (slog.Default() when nil) and dropped.
func (j *Journal) Observer(logger *slog.Logger) scope.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &observer{j: j, logger: logger}
}

type observer struct {
	j      *Journal
	logger *slog.Logger
}

func (o *observer) record(e Entry) {
	if _, err := o.j.Record(context.Background(), e); err != nil {
		o.logger.Error("journal write failed",
			"scope_id", e.ScopeID,
			"kind", string(e.Kind),
			"error", err,
		)
	}
}

func (o *observer) ScopeStarted(id string) {
	o.record(Entry{ScopeID: id, Kind: KindStarted})
}

func (o *observer) ScopeEnded(id string, err error) {
	e := Entry{ScopeID: id, Kind: KindEnded}
	if err != nil {
		e.Error = err.Error()
	}
	o.record(e)
}

func (o *observer) ScopeCloned(parentID, childID string) {
	o.record(Entry{ScopeID: childID, ParentID: parentID, Kind: KindCloned})
}

func (o *observer) ScopeCancelled(id string, callbacks int) {
	o.record(Entry{ScopeID: id, Kind: KindCancelled, Callbacks: callbacks})
}

func (o *observer) CallbackFailed(err *scope.CallbackPanicError) {
	o.record(Entry{
		ScopeID: err.ScopeID,
		Kind:    KindCallbackFailed,
		Index:   err.Index,
		Error:   fmt.Sprint(err.Value),
	})
}

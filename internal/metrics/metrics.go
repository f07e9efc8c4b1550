// Package metrics exposes scope lifecycle counts as Prometheus metrics.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/ambient/internal/scope"
)

// Outcome label values for the ended counter.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

const subsystem = "scope"

// Collector is a scope.Observer that counts lifecycle events.
type Collector struct {
	started        prometheus.Counter
	ended          *prometheus.CounterVec
	cloned         prometheus.Counter
	cancelled      prometheus.Counter
	callbacks      prometheus.Counter
	callbackFailed prometheus.Counter
	active         prometheus.Gauge

	// mu serialises Snapshot against concurrent updates so the counts it
	// returns are consistent with one another.
	mu sync.RWMutex
}

var _ scope.Observer = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      "started_total",
			Subsystem: subsystem,
			Help:      "Counter of scopes started with Run.",
		}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "ended_total",
			Subsystem: subsystem,
			Help:      "Counter of scopes whose operation returned, by outcome.",
		}, []string{"outcome"}),
		cloned: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      "cloned_total",
			Subsystem: subsystem,
			Help:      "Counter of scopes derived with Clone.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      "cancelled_total",
			Subsystem: subsystem,
			Help:      "Counter of scopes cancelled.",
		}),
		callbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      "cancel_callbacks_total",
			Subsystem: subsystem,
			Help:      "Counter of cancel callbacks dispatched at cancellation.",
		}),
		callbackFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      "cancel_callback_failures_total",
			Subsystem: subsystem,
			Help:      "Counter of cancel callbacks that panicked.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      "active",
			Subsystem: subsystem,
			Help:      "Number of scopes started and not yet ended.",
		}),
	}
	c.ended.WithLabelValues(OutcomeOK)
	c.ended.WithLabelValues(OutcomeError)

	if reg == nil {
		return c, nil
	}
	for _, m := range []prometheus.Collector{
		c.started, c.ended, c.cloned, c.cancelled, c.callbacks, c.callbackFailed, c.active,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register scope metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) ScopeStarted(string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.started.Inc()
	c.active.Inc()
}

func (c *Collector) ScopeEnded(_ string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.ended.WithLabelValues(outcome).Inc()
	c.active.Dec()
}

func (c *Collector) ScopeCloned(string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.cloned.Inc()
}

func (c *Collector) ScopeCancelled(_ string, callbacks int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.cancelled.Inc()
	c.callbacks.Add(float64(callbacks))
}

func (c *Collector) CallbackFailed(*scope.CallbackPanicError) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.callbackFailed.Inc()
}

// Snapshot is a point-in-time copy of the collector's values.
type Snapshot struct {
	Started          int64 `json:"started"`
	EndedOK          int64 `json:"ended_ok"`
	EndedError       int64 `json:"ended_error"`
	Cloned           int64 `json:"cloned"`
	Cancelled        int64 `json:"cancelled"`
	Callbacks        int64 `json:"callbacks"`
	CallbackFailures int64 `json:"callback_failures"`
	Active           int64 `json:"active"`
}

// Snapshot reads the current values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Started:          read(c.started),
		EndedOK:          read(c.ended.WithLabelValues(OutcomeOK)),
		EndedError:       read(c.ended.WithLabelValues(OutcomeError)),
		Cloned:           read(c.cloned),
		Cancelled:        read(c.cancelled),
		Callbacks:        read(c.callbacks),
		CallbackFailures: read(c.callbackFailed),
		Active:           read(c.active),
	}
}

func read(m prometheus.Metric) int64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	switch {
	case out.Counter != nil:
		return int64(out.Counter.GetValue())
	case out.Gauge != nil:
		return int64(out.Gauge.GetValue())
	}
	return 0
}

package harness

// TraceEvent is one observable action taken while running a scenario.
type TraceEvent struct {
	// Seq is the logical sequence number; strictly increasing.
	Seq int64 `json:"seq"`

	// At is the virtual time of the event in milliseconds.
	At int64 `json:"at"`

	// Scope is the scenario label of the chain that produced the event.
	Scope string `json:"scope"`

	Op  string `json:"op"`
	Key string `json:"key,omitempty"`

	// Value is the observed value. HasValue distinguishes a nil value
	// from no value at all.
	Value    any  `json:"value,omitempty"`
	HasValue bool `json:"-"`
}

// Map returns the event as a map suitable for canonical JSON. Empty keys and
// absent values are left out; a present nil value is kept as null.
func (e TraceEvent) Map() map[string]any {
	m := map[string]any{
		"seq":   e.Seq,
		"at":    e.At,
		"scope": e.Scope,
		"op":    e.Op,
	}
	if e.Key != "" {
		m["key"] = e.Key
	}
	if e.HasValue {
		m["value"] = e.Value
	}
	return m
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when no expect step and no assertion failed.
	Pass bool `json:"pass"`

	// Trace holds every event in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Elapsed is the virtual time at which the loop went idle, in
	// milliseconds.
	Elapsed int64 `json:"elapsed_ms"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/ambient/internal/canonical"
)

// AssertionError is returned when an assertion fails.
// It includes the full trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", FormatEvent(event))
	}

	return buf.String()
}

// FormatEvent renders an event as a single human-readable line.
func FormatEvent(e TraceEvent) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[%d] +%dms %s %s", e.Seq, e.At, e.Scope, e.Op)
	if e.Key != "" {
		fmt.Fprintf(&buf, " %s", e.Key)
	}
	if e.HasValue {
		fmt.Fprintf(&buf, " = %s", canonical.String(e.Value))
	}
	return buf.String()
}

// Matches reports whether e satisfies m.
func (m EventMatch) Matches(e TraceEvent) bool {
	if m.Scope != "" && m.Scope != e.Scope {
		return false
	}
	if m.Op != "" && m.Op != e.Op {
		return false
	}
	if m.Key != "" && m.Key != e.Key {
		return false
	}
	if m.Value != nil && (!e.HasValue || !equal(m.Value, e.Value)) {
		return false
	}
	return true
}

func (m EventMatch) String() string {
	var parts []string
	if m.Scope != "" {
		parts = append(parts, "scope="+m.Scope)
	}
	if m.Op != "" {
		parts = append(parts, "op="+m.Op)
	}
	if m.Key != "" {
		parts = append(parts, "key="+m.Key)
	}
	if m.Value != nil {
		parts = append(parts, "value="+canonical.String(m.Value))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// assertTraceContains checks that some event matches.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if assertion.EventMatch.Matches(event) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s", assertion.EventMatch),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the events occur in the given order.
// Events don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	prev := -1
	for i, want := range assertion.Events {
		found := -1
		for j := pos; j < len(trace); j++ {
			if want.Matches(trace[j]) {
				found = j
				break
			}
		}
		if found < 0 {
			actual := fmt.Sprintf("%s not found", want)
			if i > 0 {
				actual = fmt.Sprintf("%s not found after %s (seq %d)", want, assertion.Events[i-1], trace[prev].Seq)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %s", joinMatches(assertion.Events)),
				Actual:   actual,
				Trace:    trace,
			}
		}
		prev = found
		pos = found + 1
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	if assertion.Count == nil {
		return fmt.Errorf("count is required for trace_count")
	}
	count := 0
	for _, event := range trace {
		if assertion.EventMatch.Matches(event) {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s exactly %d time(s)", assertion.EventMatch, *assertion.Count),
			Actual:   fmt.Sprintf("found %d time(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertNoErrors checks that no expect step failed.
func assertNoErrors(result *Result) error {
	if len(result.Errors) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertNoErrors,
		Expected: "no failed expectations",
		Actual:   strings.Join(result.Errors, "; "),
		Trace:    result.Trace,
	}
}

func joinMatches(ms []EventMatch) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return strings.Join(parts, " → ")
}

// EvaluateAssertions runs every assertion against the result and returns
// one message per failure. Expectation failures already recorded in result
// are only consulted by no_errors.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	expectationErrors := &Result{Errors: append([]string(nil), result.Errors...), Trace: result.Trace}

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertNoErrors:
			err = assertNoErrors(expectationErrors)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes a set of scopes to run and the assertions their trace
// must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scopes are the top-level scopes, each started with Registry.Run.
	Scopes []ScopeSpec `yaml:"scopes"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ScopeSpec is one top-level scope.
type ScopeSpec struct {
	// Name labels the scope's events in the trace.
	Name string `yaml:"name"`

	// Data seeds the scope.
	Data map[string]any `yaml:"data,omitempty"`

	// StartAfter delays the scope's start in virtual time.
	StartAfter Duration `yaml:"start_after,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is a single action executed inside a scope.
type Step struct {
	Op string `yaml:"op"`

	// Key is the data key (set, get, has, delete, expect).
	Key string `yaml:"key,omitempty"`

	// Value is written by set and compared by expect.
	Value any `yaml:"value,omitempty"`

	// Missing makes expect require the key to be unset.
	Missing bool `yaml:"missing,omitempty"`

	// Cancelled is the flag expect_cancelled compares against.
	Cancelled bool `yaml:"cancelled,omitempty"`

	// Duration is used by sleep and cancel_after.
	Duration Duration `yaml:"duration,omitempty"`

	// Label names an on_cancel callback in the trace.
	Label string `yaml:"label,omitempty"`

	// Panic makes an on_cancel callback panic with its label.
	Panic bool `yaml:"panic,omitempty"`

	// Name labels the child chain of clone, spawn and nest.
	Name string `yaml:"name,omitempty"`

	// Data is the clone's extra data or the nested scope's seed.
	Data map[string]any `yaml:"data,omitempty"`

	// Steps is the child chain of clone, spawn and nest.
	Steps []Step `yaml:"steps,omitempty"`
}

// Step ops.
const (
	OpSet             = "set"
	OpGet             = "get"
	OpHas             = "has"
	OpDelete          = "delete"
	OpExpect          = "expect"
	OpExpectCancelled = "expect_cancelled"
	OpSnapshot        = "snapshot"
	OpSleep           = "sleep"
	OpYield           = "yield"
	OpCancel          = "cancel"
	OpCancelAfter     = "cancel_after"
	OpOnCancel        = "on_cancel"
	OpClone           = "clone"
	OpSpawn           = "spawn"
	OpNest            = "nest"
)

// EventMatch selects trace events. Empty fields match anything; a nil
// Value matches any value.
type EventMatch struct {
	Scope string `yaml:"scope,omitempty"`
	Op    string `yaml:"op,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, no_errors.
	Type string `yaml:"type"`

	// EventMatch is the selector for trace_contains and trace_count.
	EventMatch `yaml:",inline"`

	// Events is the expected order for trace_order.
	Events []EventMatch `yaml:"events,omitempty"`

	// Count is the expected number of matches for trace_count.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertNoErrors      = "no_errors"
)

// Duration is a time.Duration written as a Go duration string ("10ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"10ms\"", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: duration must not be negative", node.Line)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field checking and
// validates it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject typos like "step:" vs "steps:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Scopes) == 0 {
		return fmt.Errorf("scopes list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, sc := range s.Scopes {
		if sc.Name == "" {
			return fmt.Errorf("scopes[%d]: name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("scopes[%d]: duplicate scope name %q", i, sc.Name)
		}
		seen[sc.Name] = true
		if err := checkData(fmt.Sprintf("scopes[%d].data", i), sc.Data); err != nil {
			return err
		}
		if err := validateSteps(fmt.Sprintf("scopes[%d]", i), sc.Steps, seen); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(path string, steps []Step, names map[string]bool) error {
	for i, st := range steps {
		where := fmt.Sprintf("%s.steps[%d]", path, i)
		switch st.Op {
		case OpSet, OpGet, OpHas, OpDelete:
			if st.Key == "" {
				return fmt.Errorf("%s: key is required for %s", where, st.Op)
			}
			if err := checkValue(where+".value", st.Value); err != nil {
				return err
			}
		case OpExpect:
			if st.Key == "" {
				return fmt.Errorf("%s: key is required for expect", where)
			}
			if st.Missing && st.Value != nil {
				return fmt.Errorf("%s: expect takes either value or missing, not both", where)
			}
			if err := checkValue(where+".value", st.Value); err != nil {
				return err
			}
		case OpCancelAfter:
			if st.Duration == 0 {
				return fmt.Errorf("%s: duration is required for cancel_after", where)
			}
		case OpOnCancel:
			if st.Label == "" {
				return fmt.Errorf("%s: label is required for on_cancel", where)
			}
		case OpClone, OpSpawn, OpNest:
			if st.Name == "" {
				return fmt.Errorf("%s: name is required for %s", where, st.Op)
			}
			if names[st.Name] {
				return fmt.Errorf("%s: duplicate scope name %q", where, st.Name)
			}
			names[st.Name] = true
			if st.Op == OpSpawn && len(st.Data) > 0 {
				return fmt.Errorf("%s: spawn shares its scope and takes no data", where)
			}
			if err := checkData(where+".data", st.Data); err != nil {
				return err
			}
			if err := validateSteps(where, st.Steps, names); err != nil {
				return err
			}
		case OpExpectCancelled, OpSnapshot, OpSleep, OpYield, OpCancel:
		case "":
			return fmt.Errorf("%s: op is required", where)
		default:
			return fmt.Errorf("%s: unknown op %q", where, st.Op)
		}
	}
	return nil
}

// checkData rejects values in a data map that have no canonical form.
func checkData(path string, data map[string]any) error {
	for k, v := range data {
		if err := checkValue(path+"."+k, v); err != nil {
			return err
		}
	}
	return nil
}

// checkValue rejects decimals anywhere in v. Trace values are rendered as
// canonical JSON, which only carries integers.
func checkValue(path string, v any) error {
	switch v := v.(type) {
	case float32, float64:
		return fmt.Errorf("%s: decimal %v is not supported; use an integer or a quoted string", path, v)
	case map[string]any:
		return checkData(path, v)
	case map[any]any:
		for k, e := range v {
			if err := checkValue(fmt.Sprintf("%s.%v", path, k), e); err != nil {
				return err
			}
		}
	case []any:
		for i, e := range v {
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), e); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	where := fmt.Sprintf("assertions[%d]", index)
	if err := checkValue(where+".value", a.Value); err != nil {
		return err
	}
	for i, ev := range a.Events {
		if err := checkValue(fmt.Sprintf("%s.events[%d].value", where, i), ev.Value); err != nil {
			return err
		}
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Scope == "" && a.Op == "" && a.Key == "" && a.Value == nil {
			return fmt.Errorf("assertions[%d]: trace_contains needs at least one of scope, op, key, value", index)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: events list needs at least two entries for trace_order", index)
		}
	case AssertTraceCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for trace_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertNoErrors:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

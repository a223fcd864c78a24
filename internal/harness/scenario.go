package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against the actor runtime.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Actors lists extra CUE manifests loaded on top of the built-in
	// actors. Relative paths resolve against the scenario file.
	Actors []string `yaml:"actors,omitempty"`

	// Setup commands run before the flow and must not be rejected.
	Setup []Step `yaml:"setup,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step dispatches one command.
type Step struct {
	// Handle is the command topic, "type.command".
	Handle string `yaml:"handle"`

	// ID is the natural id of the addressed actor.
	ID string `yaml:"id"`

	Data map[string]any `yaml:"data,omitempty"`

	// Expect checks the step's outcome. Without it the step only has to
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the outcome of a step.
type ExpectClause struct {
	Rejected bool `yaml:"rejected,omitempty"`

	// Reason must be a substring of the rejection reason.
	Reason string `yaml:"reason,omitempty"`

	// Events lists the produced event types, in order.
	Events []string `yaml:"events,omitempty"`

	// State is a subset of the resulting state.
	State map[string]any `yaml:"state,omitempty"`
}

// Assertion validates the trace or the stores after the flow.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is the event type for trace_contains and trace_count.
	Event string `yaml:"event,omitempty"`

	// Data is a payload subset for trace_contains.
	Data map[string]any `yaml:"data,omitempty"`

	// Events lists event types for trace_order and event_log.
	Events []string `yaml:"events,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Actor and ID address an instance for final_state and event_log;
	// find uses only Actor.
	Actor string `yaml:"actor,omitempty"`
	ID    string `yaml:"id,omitempty"`

	// Expect is a state subset for final_state.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Criteria and IDs drive find.
	Criteria map[string]any `yaml:"criteria,omitempty"`
	IDs      []string       `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertEventLog      = "event_log"
	AssertFind          = "find"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario decodes a scenario, resolving manifest paths against
// baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, path := range scenario.Actors {
		if !filepath.IsAbs(path) && baseDir != "" {
			scenario.Actors[i] = filepath.Join(baseDir, path)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, path := range s.Actors {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("actor manifest not found: %s", path)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if e := step.Expect; e != nil && !e.Rejected && e.Reason != "" {
			return fmt.Errorf("flow[%d].expect: reason requires rejected: true", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Handle == "" {
		return fmt.Errorf("handle is required")
	}
	if step.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Actor == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: actor and id are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertEventLog:
		if a.Actor == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: actor and id are required for event_log", index)
		}
	case AssertFind:
		if a.Actor == "" {
			return fmt.Errorf("assertions[%d]: actor is required for find", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario drives a runtime through a sequence of mutations and checks
// the resulting trace and state.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE file or directory declaring the entity types.
	// Relative paths are resolved against the scenario file's directory.
	Schema string `yaml:"schema"`

	// Session is the journal session token used when a store is attached.
	// Defaults to DefaultSession.
	Session string `yaml:"session,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultSession is the session used when a scenario names none.
const DefaultSession = "test-session-default"

// Step is one operation against the runtime.
//
// Entities and collections are addressed by the alias given in As when
// they were created.
type Step struct {
	Op         string         `yaml:"op"`
	As         string         `yaml:"as,omitempty"`
	Type       string         `yaml:"type,omitempty"`
	Entity     string         `yaml:"entity,omitempty"`
	Collection string         `yaml:"collection,omitempty"`
	Target     string         `yaml:"target,omitempty"`
	Attr       string         `yaml:"attr,omitempty"`
	Value      any            `yaml:"value,omitempty"`
	Values     map[string]any `yaml:"values,omitempty"`
	Index      *int           `yaml:"index,omitempty"`
	Max        int            `yaml:"max,omitempty"`
	Evicting   bool           `yaml:"evicting,omitempty"`
	By         string         `yaml:"by,omitempty"`
	Listen     bool           `yaml:"listen,omitempty"`

	// ExpectError is the core error code the step must fail with. The
	// scenario fails if the step succeeds or fails differently.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpNewEntity     = "new_entity"
	OpNewCollection = "new_collection"
	OpSet           = "set"
	OpAddField      = "add_field"
	OpRemoveField   = "remove_field"
	OpAdd           = "add"
	OpRemove        = "remove"
	OpRemoveAt      = "remove_at"
	OpReplace       = "replace"
	OpSetLimit      = "set_limit"
	OpSort          = "sort"
	OpListen        = "listen"
	OpDestroy       = "destroy"

	// OpEnableStatistics samples Attr of Entity, or the size of
	// Collection. Max is the capacity; 0 selects the runtime default.
	OpEnableStatistics = "enable_statistics"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of trace_order, trace_count, value, size, members,
	// references, samples.
	Type string `yaml:"type"`

	// Source restricts trace assertions to events delivered by one alias.
	Source string `yaml:"source,omitempty"`

	// Events is the expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Exact requires the (filtered) trace to equal Events (trace_order).
	Exact bool `yaml:"exact,omitempty"`

	// Event matches one rendered event exactly (trace_count).
	Event string `yaml:"event,omitempty"`

	// Kind matches events by kind name (trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of events (trace_count), members
	// (size) or retained samples (samples).
	Count int `yaml:"count,omitempty"`

	// Entity and Attr address the value under test (value).
	Entity string `yaml:"entity,omitempty"`
	Attr   string `yaml:"attr,omitempty"`

	// Expect is the expected value (value). It may be null.
	Expect Expected `yaml:"expect,omitempty"`

	// Present is the expected activity of Attr (value).
	Present *bool `yaml:"present,omitempty"`

	// Collection is the collection under test (size, members).
	Collection string `yaml:"collection,omitempty"`

	// Target is the entity or collection under test (references).
	Target string `yaml:"target,omitempty"`

	// Members lists the expected member aliases in index order (members).
	Members []string `yaml:"members,omitempty"`

	// Refs lists the expected referrers as "alias" for containing
	// collections and "alias.attr" for referencing attributes (references).
	Refs []string `yaml:"refs,omitempty"`
}

// Assertion types.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertValue      = "value"
	AssertSize       = "size"
	AssertMembers    = "members"
	AssertReferences = "references"
	AssertSamples    = "samples"
)

// Expected is a YAML value that remembers whether it was given, so that
// an explicit null can be told apart from an omitted key.
type Expected struct {
	Set   bool
	Value any
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expected) UnmarshalYAML(node *yaml.Node) error {
	e.Set = true
	return node.Decode(&e.Value)
}

// IsZero lets omitempty skip an unset value.
func (e Expected) IsZero() bool { return !e.Set }

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving the schema path against
// baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && baseDir != "" {
		scenario.Schema = filepath.Join(baseDir, scenario.Schema)
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
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); err != nil {
		return fmt.Errorf("schema not found: %s", s.Schema)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
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

func validateStep(index int, s *Step) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, field, s.Op)
		}
		return nil
	}
	needIndex := func() error {
		if s.Index == nil {
			return fmt.Errorf("steps[%d]: index is required for %s", index, s.Op)
		}
		return nil
	}

	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpNewEntity, OpNewCollection:
		if err := need("type", s.Type); err != nil {
			return err
		}
		return need("as", s.As)
	case OpSet, OpAddField, OpRemoveField:
		if err := need("entity", s.Entity); err != nil {
			return err
		}
		return need("attr", s.Attr)
	case OpAdd, OpRemove:
		if err := need("collection", s.Collection); err != nil {
			return err
		}
		return need("entity", s.Entity)
	case OpRemoveAt:
		if err := need("collection", s.Collection); err != nil {
			return err
		}
		return needIndex()
	case OpReplace:
		if err := need("collection", s.Collection); err != nil {
			return err
		}
		if err := need("entity", s.Entity); err != nil {
			return err
		}
		return needIndex()
	case OpSetLimit:
		if s.Max < 0 {
			return fmt.Errorf("steps[%d]: max must be non-negative", index)
		}
		return need("collection", s.Collection)
	case OpSort:
		if err := need("collection", s.Collection); err != nil {
			return err
		}
		return need("by", s.By)
	case OpListen, OpDestroy:
		return need("target", s.Target)
	case OpEnableStatistics:
		if s.Collection != "" {
			return nil
		}
		if err := need("entity or collection", s.Entity); err != nil {
			return err
		}
		return need("attr", s.Attr)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceOrder:
		if len(a.Events) == 0 && !a.Exact {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" && a.Kind == "" {
			return fmt.Errorf("assertions[%d]: event or kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertValue:
		if a.Entity == "" || a.Attr == "" {
			return fmt.Errorf("assertions[%d]: entity and attr are required for value", index)
		}
		if !a.Expect.Set && a.Present == nil {
			return fmt.Errorf("assertions[%d]: expect or present is required for value", index)
		}
	case AssertSize:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for size", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for size", index)
		}
	case AssertMembers:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for members", index)
		}
	case AssertSamples:
		if a.Collection == "" && (a.Entity == "" || a.Attr == "") {
			return fmt.Errorf("assertions[%d]: collection, or entity and attr, is required for samples", index)
		}
	case AssertReferences:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for references", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

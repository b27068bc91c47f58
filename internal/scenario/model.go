// Package scenario loads declarative verification scenarios and executes them
// against an authenticated browser session.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
)

// Action kinds a step may perform.
const (
	ActionNavigate = "navigate"
	ActionFill     = "fill"
	ActionClick    = "click"
	ActionSelect   = "select"
)

// Assertion modes for text checks.
const (
	AssertEquals   = "equals"
	AssertContains = "contains"
)

// Scenario is one ordered sequence of steps run inside a single session.
type Scenario struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	// RequiresAuth defaults to true; set false for public pages.
	RequiresAuth *bool  `yaml:"requires_auth,omitempty"`
	Steps        []Step `yaml:"steps"`
}

// NeedsLogin reports whether the scenario requires an authenticated session.
func (s Scenario) NeedsLogin() bool {
	return s.RequiresAuth == nil || *s.RequiresAuth
}

// Step performs exactly one action or one assertion, never both.
type Step struct {
	Name   string     `yaml:"name,omitempty"`
	Action *Action    `yaml:"action,omitempty"`
	Assert *Assertion `yaml:"assert,omitempty"`
}

// Action mutates page state.
type Action struct {
	Kind string `yaml:"kind"`
	// URL is used by navigate actions. Relative paths are joined onto the
	// environment base URL.
	URL string `yaml:"url,omitempty"`
	// Target locates the control for fill, click, and select actions.
	Target schemas.ElementQuery `yaml:"target,omitempty"`
	// Value carries the text to fill or the option to select.
	Value string `yaml:"value,omitempty"`
}

// Assertion reads page state and compares it without mutating anything.
type Assertion struct {
	Target schemas.ElementQuery `yaml:"target"`
	// Mode is equals or contains; defaults to equals.
	Mode     string `yaml:"mode,omitempty"`
	Expected string `yaml:"expected"`
}

// Suite is the top-level document of a scenario file.
type Suite struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadFile parses and validates a YAML scenario file.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Load(data)
}

// Load parses and validates YAML scenario content.
func Load(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	return &suite, nil
}

// Validate rejects structurally invalid suites before anything touches a
// browser.
func (s *Suite) Validate() error {
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("scenario file contains no scenarios")
	}
	seen := make(map[string]bool, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		if sc.ID == "" {
			return fmt.Errorf("scenario %d has no id", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true
		if len(sc.Steps) == 0 {
			return fmt.Errorf("scenario %q has no steps", sc.ID)
		}
		for j, step := range sc.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("scenario %q step %d: %w", sc.ID, j+1, err)
			}
		}
	}
	return nil
}

func (st Step) validate() error {
	switch {
	case st.Action != nil && st.Assert != nil:
		return fmt.Errorf("a step is either an action or an assertion, not both")
	case st.Action == nil && st.Assert == nil:
		return fmt.Errorf("a step needs an action or an assertion")
	case st.Action != nil:
		return st.Action.validate()
	default:
		return st.Assert.validate()
	}
}

func (a Action) validate() error {
	switch a.Kind {
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("navigate action needs a url")
		}
	case ActionFill, ActionSelect:
		if a.Target.Primary == "" {
			return fmt.Errorf("%s action needs a target selector", a.Kind)
		}
		if a.Value == "" {
			return fmt.Errorf("%s action needs a value", a.Kind)
		}
	case ActionClick:
		if a.Target.Primary == "" {
			return fmt.Errorf("click action needs a target selector")
		}
	case "":
		return fmt.Errorf("action kind is required")
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

func (a Assertion) validate() error {
	if a.Target.Primary == "" {
		return fmt.Errorf("assertion needs a target selector")
	}
	switch a.Mode {
	case "", AssertEquals, AssertContains:
	default:
		return fmt.Errorf("unknown assertion mode %q", a.Mode)
	}
	return nil
}

// describe names the step for logging and failure detail.
func (st Step) describe(index int) string {
	if st.Name != "" {
		return st.Name
	}
	if st.Action != nil {
		return fmt.Sprintf("step %d (%s)", index+1, st.Action.Kind)
	}
	return fmt.Sprintf("step %d (assert)", index+1)
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scripthost/internal/ir"
)

// Scenario drives one script host from a clean start.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scripts maps file names to source written into the script directory
	// before the first step.
	Scripts map[string]string `yaml:"scripts,omitempty"`

	// ScriptDir is a directory whose files are copied into the script
	// directory. Relative paths resolve against the scenario file.
	ScriptDir string `yaml:"script_dir,omitempty"`

	// Assets are the bundled fallback scripts. Empty means no fallback.
	Assets map[string]string `yaml:"assets,omitempty"`

	// Categories replaces the default dispatcher categories.
	Categories []string `yaml:"categories,omitempty"`

	// Worlds restricts delivery of located events to these worlds.
	Worlds []string `yaml:"worlds,omitempty"`

	// Namespace replaces the default event type namespace.
	Namespace string `yaml:"namespace,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step kinds.
const (
	StepSelect  = "select"
	StepRun     = "run"
	StepDiscard = "discard"
	StepCurrent = "current"
	StepFire    = "fire"
	StepTick    = "tick"
	StepWrite   = "write"
	StepDelete  = "delete"
)

// ActorNobody is a principal with no derivable identity.
const ActorNobody = "nobody"

// Step is one action against the host.
type Step struct {
	Do string `yaml:"do"`

	// Actor issues select, run, discard and current.
	Actor string `yaml:"actor,omitempty"`

	// File names the script for select, write and delete.
	File string `yaml:"file,omitempty"`

	// Fallback allows select to copy a bundled asset.
	Fallback bool `yaml:"fallback,omitempty"`

	// Source is the new content for write.
	Source string `yaml:"source,omitempty"`

	// Category, Data, Shapes and Location describe a fired event.
	Category string                    `yaml:"category,omitempty"`
	Data     map[string]any            `yaml:"data,omitempty"`
	Shapes   map[string]map[string]any `yaml:"shapes,omitempty"`
	Location *ir.Location              `yaml:"location,omitempty"`

	// Ticks is how far a tick step advances the clock.
	Ticks int64 `yaml:"ticks,omitempty"`

	// Expect checks the step's outcome. Nil checks nothing.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match against a StepResult. Empty fields are not checked.
type Expect struct {
	Status    string   `yaml:"status,omitempty"`
	Message   string   `yaml:"message,omitempty"`
	Delivered []string `yaml:"delivered,omitempty"`
	Failed    []string `yaml:"failed,omitempty"`
	Fired     *int     `yaml:"fired,omitempty"`
}

// Assertion validates the trace, output or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind, Script, Category and Detail match a journal record
	// (trace_contains, trace_count). Detail is a subset match.
	Kind     string         `yaml:"kind,omitempty"`
	Script   string         `yaml:"script,omitempty"`
	Category string         `yaml:"category,omitempty"`
	Detail   map[string]any `yaml:"detail,omitempty"`

	// Count is the expected number of matching records (trace_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected order of record kinds (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Lines is the expected console output (output).
	Lines []string `yaml:"lines,omitempty"`

	// Scripts lists expected script ids (live_scripts, subscribers).
	Scripts []string `yaml:"scripts,omitempty"`

	// Actor names the actor whose selection is checked (selection).
	Actor string `yaml:"actor,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertOutput        = "output"
	AssertLiveScripts   = "live_scripts"
	AssertSubscribers   = "subscribers"
	AssertSelection     = "selection"
)

// LoadScenario reads and parses a scenario YAML file. A relative script_dir
// resolves against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file, resolving
// script_dir relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.ScriptDir != "" && !filepath.IsAbs(scenario.ScriptDir) && basePath != "" {
		scenario.ScriptDir = filepath.Join(basePath, scenario.ScriptDir)
	}
	if scenario.ScriptDir != "" {
		if info, err := os.Stat(scenario.ScriptDir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("invalid scenario: script_dir not found: %s", scenario.ScriptDir)
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for name := range s.Scripts {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("scripts: %q is not a local file name", name)
		}
	}
	for name := range s.Assets {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("assets: %q is not a local file name", name)
		}
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

func validateStep(index int, step *Step) error {
	switch step.Do {
	case StepSelect, StepWrite, StepDelete:
		if step.File == "" {
			return fmt.Errorf("steps[%d]: file is required for %s", index, step.Do)
		}
	case StepRun, StepDiscard, StepCurrent:
	case StepFire:
		if step.Category == "" {
			return fmt.Errorf("steps[%d]: category is required for fire", index)
		}
	case StepTick:
		if step.Ticks < 1 {
			return fmt.Errorf("steps[%d]: ticks must be positive", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, step.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertSubscribers:
		if a.Category == "" {
			return fmt.Errorf("assertions[%d]: category is required for subscribers", index)
		}
	case AssertOutput, AssertLiveScripts, AssertSelection:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

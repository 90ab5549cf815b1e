package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/verdict/internal/settlement"
)

// Scenario defines one settlement run and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides the default executor config.
	Config ConfigOverrides `yaml:"config,omitempty"`

	// Trigger describes the SettlementRequested log fed to the executor.
	Trigger Trigger `yaml:"trigger"`

	// Secrets served by the emulator's secrets capability.
	Secrets map[string]string `yaml:"secrets,omitempty"`

	// Nodes scripts the emulated AI answers.
	Nodes NodeScripts `yaml:"nodes,omitempty"`

	// Expect describes the terminal state of the run.
	Expect Expectation `yaml:"expect"`

	// Assertions validate the trace, emulator calls and journal.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ConfigOverrides replaces fields of the default config when non-zero.
type ConfigOverrides struct {
	NodeCount      int    `yaml:"node_count,omitempty"`
	AwaitTimeoutMs int64  `yaml:"await_timeout_ms,omitempty"`
	ChainName      string `yaml:"chain_name,omitempty"`
	EvidenceURI    string `yaml:"evidence_uri,omitempty"`
}

// Trigger describes the input log.
type Trigger struct {
	// Contract defaults to the configured settlement contract.
	Contract string `yaml:"contract,omitempty"`
	MarketID string `yaml:"market_id"`
	Question string `yaml:"question"`

	// Topic0 replaces the event signature topic.
	Topic0 string `yaml:"topic0,omitempty"`

	// Removed marks the log as reorged out.
	Removed bool `yaml:"removed,omitempty"`
}

// NodeScript scripts one node's SendRequest answer.
type NodeScript struct {
	AIText     string `yaml:"ai_text,omitempty"`
	Status     int    `yaml:"status,omitempty"`
	Structured bool   `yaml:"structured,omitempty"`
	DelayMs    int    `yaml:"delay_ms,omitempty"`
	Hang       bool   `yaml:"hang,omitempty"`
}

// NodeScripts scripts every node, with per-index overrides.
type NodeScripts struct {
	Default   NodeScript         `yaml:"default,omitempty"`
	Overrides map[int]NodeScript `yaml:"overrides,omitempty"`
}

// Expectation describes the terminal state.
type Expectation struct {
	Stage         string `yaml:"stage"`
	FailureStage  string `yaml:"failure_stage,omitempty"`
	Kind          string `yaml:"kind,omitempty"`
	Result        string `yaml:"result,omitempty"`
	ConfidenceBps int    `yaml:"confidence_bps,omitempty"`
	ErrorContains string `yaml:"error_contains,omitempty"`
}

// Assertion validates trace, calls or journal state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "stage_order": Check stages appear in order
	// - "call_count": Check the emulator saw Method exactly Count times
	// - "detail": Check Stage's detail has Key = Value
	// - "final_state": Query table and verify expected values
	Type string `yaml:"type"`

	// Stages is the expected stage order (used by stage_order).
	Stages []string `yaml:"stages,omitempty"`

	// Method and Count are used by call_count.
	Method string `yaml:"method,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	// Stage, Key and Value are used by detail.
	Stage string `yaml:"stage,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Table is the journal table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertStageOrder = "stage_order"
	AssertCallCount  = "call_count"
	AssertDetail     = "detail"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := map[string]string{}
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

var terminalStages = map[string]bool{
	string(settlement.StageSucceeded): true,
	string(settlement.StageFailed):    true,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Trigger.MarketID == "" {
		return errors.New("trigger.market_id is required")
	}
	if !terminalStages[s.Expect.Stage] {
		return fmt.Errorf("expect.stage must be Succeeded or Failed, got %q", s.Expect.Stage)
	}
	if s.Expect.Stage == string(settlement.StageFailed) && s.Expect.Kind == "" {
		return errors.New("expect.kind is required for a failed run")
	}
	if s.Expect.Stage == string(settlement.StageSucceeded) && (s.Expect.Kind != "" || s.Expect.FailureStage != "") {
		return errors.New("expect.kind and expect.failure_stage only apply to a failed run")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStageOrder:
		if len(a.Stages) == 0 {
			return fmt.Errorf("assertions[%d]: stages list is required for stage_order", index)
		}
	case AssertCallCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertDetail:
		if a.Stage == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: stage and key are required for detail", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

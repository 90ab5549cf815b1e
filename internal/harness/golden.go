package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/verdict/internal/ir"
)

// redacted detail keys and their placeholders. Response digests change
// with any envelope layout change and error text is checked by
// expect.error_contains, so neither belongs in a golden trace.
var redacted = map[string]string{
	"digest": "<digest>",
	"error":  "<error>",
}

// TraceSnapshot captures the observable behavior of one scenario run.
type TraceSnapshot struct {
	ScenarioName string
	RunID        string
	Stage        string
	Failure      *Failure
	Trace        []TraceEvent
	Calls        map[string]int
}

// NewTraceSnapshot builds the snapshot of result.
func NewTraceSnapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		RunID:        result.RunID,
		Stage:        result.Stage,
		Failure:      result.Failure,
		Trace:        result.Trace,
		Calls:        result.Calls,
	}
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":   ev.Seq,
			"stage": ev.Stage,
		}
		if len(ev.Detail) > 0 {
			detail := make(map[string]any, len(ev.Detail))
			for k, v := range ev.Detail {
				if placeholder, ok := redacted[k]; ok {
					v = placeholder
				}
				detail[k] = v
			}
			m["detail"] = detail
		}
		trace[i] = m
	}

	calls := make(map[string]any, len(s.Calls))
	for method, n := range s.Calls {
		calls[method] = n
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"run_id":        s.RunID,
		"stage":         s.Stage,
		"trace":         trace,
		"calls":         calls,
	}
	if s.Failure != nil {
		out["failure"] = map[string]any{
			"stage": s.Failure.Stage,
			"kind":  s.Failure.Kind,
		}
	}
	return out
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass; returns an error if the
// scenario could not be executed.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewTraceSnapshot(scenarioName, result)
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

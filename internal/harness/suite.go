package harness

import (
	"fmt"
	"path/filepath"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one scenario that did not pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Errors   []string `json:"errors"`
}

// RunDir loads every scenario in dir and runs those whose name matches the
// glob filter (all of them when filter is empty). Load errors abort the
// suite; execution errors and failed expectations are collected.
func RunDir(dir, filter string) (*SuiteResult, error) {
	scenarios, err := LoadScenarios(dir)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{}
	for _, s := range scenarios {
		if filter != "" {
			matched, err := filepath.Match(filter, s.Name)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		suite.Total++
		result, err := Run(s)
		switch {
		case err != nil:
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{
				Scenario: s.Name,
				Errors:   []string{fmt.Sprintf("scenario execution failed: %v", err)},
			})
		case !result.Pass:
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{Scenario: s.Name, Errors: result.Errors})
		default:
			suite.Passed++
		}
	}
	return suite, nil
}

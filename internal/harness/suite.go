package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path does not exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario %q does not exist", e.Path)
}

// Discover expands paths into scenario files. Directories contribute every
// .yaml and .yml file directly inside them, sorted by name.
func Discover(paths ...string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: p}
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		slices.Sort(found)
		files = append(files, found...)
	}
	return files, nil
}

// SuiteResult summarizes a run over many scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Results  []ScenarioOutcome `json:"results"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Path   string  `json:"path"`
	Name   string  `json:"name,omitempty"`
	Pass   bool    `json:"pass"`
	Result *Result `json:"-"`
}

// ScenarioFailure explains why a scenario failed.
type ScenarioFailure struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Errors []string `json:"errors"`
}

// RunSuite loads and runs every file. A file that cannot be loaded or
// executed counts as a failure.
func RunSuite(ctx context.Context, files []string) *SuiteResult {
	suite := &SuiteResult{Results: []ScenarioOutcome{}}
	for _, path := range files {
		suite.Total++
		outcome := ScenarioOutcome{Path: path}

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(outcome, []string{err.Error()})
			continue
		}
		outcome.Name = scenario.Name

		result, err := RunContext(ctx, scenario)
		if err != nil {
			suite.fail(outcome, []string{err.Error()})
			continue
		}
		outcome.Result = result
		outcome.Pass = result.Pass
		if !result.Pass {
			suite.fail(outcome, result.Errors)
			continue
		}
		suite.Passed++
		suite.Results = append(suite.Results, outcome)
	}
	return suite
}

func (s *SuiteResult) fail(outcome ScenarioOutcome, errs []string) {
	s.Failed++
	s.Results = append(s.Results, outcome)
	s.Failures = append(s.Failures, ScenarioFailure{Path: outcome.Path, Name: outcome.Name, Errors: errs})
}

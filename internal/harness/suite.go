package harness

import (
	"fmt"
	"path/filepath"
	"sort"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is a scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// Pass reports whether every scenario passed.
func (r *SuiteResult) Pass() bool { return r.Failed == 0 }

// ScenarioFiles returns the *.yaml and *.yml files of dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// RunFiles runs every scenario file. One failing scenario never stops the
// others.
func RunFiles(paths []string) *SuiteResult {
	suite := &SuiteResult{Failures: []ScenarioFailure{}}
	for _, path := range paths {
		suite.Total++

		name := filepath.Base(path)
		errs := func() []string {
			scenario, err := LoadScenario(path)
			if err != nil {
				return []string{err.Error()}
			}
			name = scenario.Name
			result, err := Run(scenario)
			if err != nil {
				return []string{err.Error()}
			}
			return result.Errors
		}()

		if len(errs) == 0 {
			suite.Passed++
			continue
		}
		suite.Failed++
		suite.Failures = append(suite.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
	}
	return suite
}

// RunDir runs every scenario file in dir.
func RunDir(dir string) (*SuiteResult, error) {
	files, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}
	return RunFiles(files), nil
}

package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// NoScenariosError is returned when a directory holds no scenario files.
type NoScenariosError struct {
	Dir string
}

func (e *NoScenariosError) Error() string {
	return fmt.Sprintf("no scenario files (*.yaml, *.yml) found in %s", e.Dir)
}

// SuiteResult is the outcome of one scenario file in a suite.
type SuiteResult struct {
	Path     string  `json:"path"`
	Scenario string  `json:"scenario,omitempty"`
	Result   *Result `json:"result,omitempty"`

	// Err is set when the file could not be loaded or run.
	Err error `json:"-"`
}

// Passed reports whether the scenario loaded, ran and passed.
func (r SuiteResult) Passed() bool {
	return r.Err == nil && r.Result != nil && r.Result.Pass
}

// FindScenarios returns the scenario files under dir, sorted by path.
func FindScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &NoScenariosError{Dir: dir}
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and runs every scenario under dir. A file that fails to
// load is reported in its SuiteResult and does not stop the suite.
func RunSuite(dir string, opts ...Option) ([]SuiteResult, error) {
	files, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}

	results := make([]SuiteResult, 0, len(files))
	for _, path := range files {
		results = append(results, RunFile(path, opts...))
	}
	return results, nil
}

// RunFile loads and runs a single scenario file.
func RunFile(path string, opts ...Option) SuiteResult {
	sr := SuiteResult{Path: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		sr.Err = err
		return sr
	}
	sr.Scenario = scenario.Name

	result, err := Run(scenario, opts...)
	if err != nil {
		sr.Err = err
		return sr
	}
	sr.Result = result
	return sr
}

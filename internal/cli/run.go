package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ambient/internal/harness"
	"github.com/roach88/ambient/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SinkOptions
}

// ScenarioRun is one executed scenario in the run command's output.
type ScenarioRun struct {
	Path      string           `json:"path"`
	Name      string           `json:"name"`
	Pass      bool             `json:"pass"`
	ElapsedMS int64            `json:"elapsed_ms"`
	Trace     []map[string]any `json:"trace"`
	Errors    []string         `json:"errors,omitempty"`
}

// RunResult is the run command's JSON payload.
type RunResult struct {
	Scenarios []ScenarioRun     `json:"scenarios"`
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Execute scenarios and print their traces",
		Long: `Execute one or more scenario files and print the trace of each.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (unreadable file, bad scenario, etc.)

Examples:
  ambient run scenarios/isolation.yaml
  ambient run scenarios/*.yaml --format json
  ambient run scenarios/timeout.yaml --db journal.db --metrics`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	opts.SinkOptions.addFlags(cmd)

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	out := opts.formatter(cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	// Load everything first so a bad file fails before anything runs.
	scenarios := make([]*harness.Scenario, 0, len(paths))
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			_ = out.Error(CodeIO, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}
		scenarios = append(scenarios, scenario)
	}

	s, err := openSinks(opts.SinkOptions, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	result := RunResult{Scenarios: make([]ScenarioRun, 0, len(scenarios))}
	allPass := true
	for i, scenario := range scenarios {
		out.VerboseLog("running %s (%s)", scenario.Name, paths[i])

		runOpts := append(s.harnessOptions(), harness.WithIDPrefix(scenario.Name))
		res, err := harness.Run(scenario, runOpts...)
		if err != nil {
			_ = out.Error(CodeScenario, err.Error(), nil)
			return WrapExitError(ExitFailure, "scenario did not complete", err)
		}

		run := ScenarioRun{
			Path:      paths[i],
			Name:      scenario.Name,
			Pass:      res.Pass,
			ElapsedMS: res.Elapsed,
			Trace:     make([]map[string]any, len(res.Trace)),
			Errors:    res.Errors,
		}
		for j, e := range res.Trace {
			run.Trace[j] = e.Map()
		}
		result.Scenarios = append(result.Scenarios, run)
		allPass = allPass && res.Pass

		if !out.JSON() {
			printRun(out.Writer, run, res.Trace)
		}
	}
	result.Metrics = s.snapshot()

	if out.JSON() {
		if err := out.Result(allPass, result); err != nil {
			return err
		}
	} else {
		printMetrics(out.Writer, result.Metrics)
	}

	if !allPass {
		return NewExitError(ExitFailure, "one or more scenarios failed")
	}
	return nil
}

func printRun(w io.Writer, run ScenarioRun, trace []harness.TraceEvent) {
	fmt.Fprintf(w, "== %s (%s)\n", run.Name, run.Path)
	for _, e := range trace {
		fmt.Fprintf(w, "  %s\n", harness.FormatEvent(e))
	}
	if run.Pass {
		fmt.Fprintf(w, "PASS %s (%dms)\n", run.Name, run.ElapsedMS)
		return
	}
	fmt.Fprintf(w, "FAIL %s (%dms)\n", run.Name, run.ElapsedMS)
	for _, e := range run.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

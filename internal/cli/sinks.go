package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/ambient/internal/harness"
	"github.com/roach88/ambient/internal/journal"
	"github.com/roach88/ambient/internal/metrics"
)

// SinkOptions holds the flags shared by commands that execute scenarios.
type SinkOptions struct {
	DBPath  string // journal database; empty disables the journal
	Metrics bool   // collect and print lifecycle metrics
}

func (o *SinkOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.DBPath, "db", "", "record scope lifecycle events to this journal database")
	cmd.Flags().BoolVar(&o.Metrics, "metrics", false, "print a scope lifecycle metric summary")
}

// sinks are the observers attached to scenario runs for one command.
type sinks struct {
	journal   *journal.Journal
	collector *metrics.Collector
	logger    *slog.Logger
}

func openSinks(opts SinkOptions, logger *slog.Logger) (*sinks, error) {
	s := &sinks{logger: logger}
	if opts.DBPath != "" {
		j, err := journal.Open(opts.DBPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		s.journal = j
	}
	if opts.Metrics {
		c, err := metrics.NewCollector(prometheus.NewRegistry())
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to create metrics", err)
		}
		s.collector = c
	}
	return s, nil
}

// harnessOptions returns the run options wiring the sinks in.
func (s *sinks) harnessOptions() []harness.Option {
	opts := []harness.Option{harness.WithLogger(s.logger)}
	if s.journal != nil {
		opts = append(opts, harness.WithObserver(s.journal.Observer(s.logger)))
	}
	if s.collector != nil {
		opts = append(opts, harness.WithObserver(s.collector))
	}
	return opts
}

// snapshot returns the metric values, or nil when metrics are off.
func (s *sinks) snapshot() *metrics.Snapshot {
	if s.collector == nil {
		return nil
	}
	snap := s.collector.Snapshot()
	return &snap
}

func (s *sinks) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

func printMetrics(w io.Writer, snap *metrics.Snapshot) {
	if snap == nil {
		return
	}
	fmt.Fprintln(w, "Metrics:")
	fmt.Fprintf(w, "  scopes started:     %d\n", snap.Started)
	fmt.Fprintf(w, "  scopes ended:       %d ok, %d error\n", snap.EndedOK, snap.EndedError)
	fmt.Fprintf(w, "  scopes cloned:      %d\n", snap.Cloned)
	fmt.Fprintf(w, "  scopes cancelled:   %d\n", snap.Cancelled)
	fmt.Fprintf(w, "  cancel callbacks:   %d (%d failed)\n", snap.Callbacks, snap.CallbackFailures)
	fmt.Fprintf(w, "  scopes active:      %d\n", snap.Active)
}

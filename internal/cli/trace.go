package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ambient/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	DBPath  string
	ScopeID string
	Kind    string
	After   int64
	Limit   int
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List scope lifecycle journal entries",
		Long: `List entries recorded in a lifecycle journal by run or test --db.

Filtering by --scope also returns clone entries whose parent is that scope.

Examples:
  ambient trace --db journal.db
  ambient trace --db journal.db --scope isolation-1
  ambient trace --db journal.db --kind callback_failed --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to the journal database (required)")
	cmd.Flags().StringVar(&opts.ScopeID, "scope", "", "only entries for this scope ID")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only entries of this kind (started|ended|cloned|cancelled|callback_failed)")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only entries with a sequence number greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 = all)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
	out := opts.formatter(cmd)

	kind := journal.Kind(opts.Kind)
	if kind != "" && !kind.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q", opts.Kind))
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "limit must be non-negative")
	}

	// Opening creates a missing file; an absent journal is a usage error.
	if _, err := os.Stat(opts.DBPath); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	entries, err := j.Entries(context.Background(), journal.Filter{
		ScopeID:  opts.ScopeID,
		Kind:     kind,
		AfterSeq: opts.After,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if out.JSON() {
		return out.Success(entries)
	}
	printEntries(out.Writer, entries)
	return nil
}

func printEntries(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%6d  %-16s %s", e.Seq, e.Kind, e.ScopeID)
		switch e.Kind {
		case journal.KindCloned:
			fmt.Fprintf(w, " from %s", e.ParentID)
		case journal.KindCancelled:
			fmt.Fprintf(w, " callbacks=%d", e.Callbacks)
		case journal.KindCallbackFailed:
			fmt.Fprintf(w, " index=%d panic=%q", e.Index, e.Error)
		case journal.KindEnded:
			if e.Error != "" {
				fmt.Fprintf(w, " error=%q", e.Error)
			}
		}
		fmt.Fprintln(w)
	}
}

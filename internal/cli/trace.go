package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vend/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	ItemID string
}

// TraceEvent is a single transition in the trace timeline.
type TraceEvent struct {
	Seq           int64  `json:"seq"`
	Event         string `json:"event"`
	FromStatus    string `json:"from_status,omitempty"`
	ToStatus      string `json:"to_status"`
	TransactionID string `json:"transaction_id,omitempty"`
	AttemptToken  string `json:"attempt_token,omitempty"`
	Detail        string `json:"detail,omitempty"`
	At            string `json:"at"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	ItemID   string       `json:"item_id"`
	Timeline []TraceEvent `json:"timeline"`
	Total    int          `json:"total"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the transition history for an item",
		Long: `Read the transition journal and print every state transition
recorded for an item, in the order the engine applied them.

Requires the journal to be enabled in the config. The journal is
append-only and survives record deletion, so finalized and superseded
purchases remain traceable here after they disappear from 'vend
records'.

Examples:
  vend trace --item gem_pack
  vend trace --item gem_pack --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ItemID, "item", "", "item ID to trace (required)")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if !cfg.Journal.Enabled {
		return NewExitError(ExitCommandError, "journal is not enabled in the config")
	}

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	entries, err := j.ReadByItem(context.Background(), opts.ItemID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{ItemID: opts.ItemID, Timeline: []TraceEvent{}}
	for _, e := range entries {
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:           e.Seq,
			Event:         e.Event,
			FromStatus:    e.FromStatus,
			ToStatus:      e.ToStatus,
			TransactionID: e.TransactionID,
			AttemptToken:  e.AttemptToken,
			Detail:        e.Detail,
			At:            e.At.UTC().Format(time.RFC3339),
		})
	}
	result.Total = len(result.Timeline)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for item: %s\n\n", result.ItemID)

	if result.Total == 0 {
		fmt.Fprintln(w, "  (no transitions recorded)")
		return nil
	}

	for _, event := range result.Timeline {
		from := event.FromStatus
		if from == "" {
			from = "(none)"
		}
		fmt.Fprintf(w, "  [%d] %s  %s -> %s\n", event.Seq, event.Event, from, event.ToStatus)
		if event.Detail != "" {
			fmt.Fprintf(w, "       detail: %s\n", event.Detail)
		}
		if verbose {
			if event.TransactionID != "" {
				fmt.Fprintf(w, "       transaction: %s\n", event.TransactionID)
			}
			if event.AttemptToken != "" {
				fmt.Fprintf(w, "       attempt: %s\n", event.AttemptToken)
			}
			fmt.Fprintf(w, "       at: %s\n", event.At)
		}
	}

	fmt.Fprintf(w, "\n%d transition(s)\n", result.Total)
	return nil
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vend/internal/store"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	MaxAgeDays         int
	InitiatedGraceDays int
}

// PurgeResult holds the purge command output.
type PurgeResult struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove stale purchase records",
		Long: `Apply the retention policy to the record store.

Records older than the maximum age are removed regardless of status.
Initiated records that never received a store confirmation are removed
after the shorter grace window. The running engine applies the same
policy on every reconciliation pass; this command exists for offline
cleanup and for tightening the windows one-off.

Examples:
  vend purge
  vend purge --max-age-days 14
  vend purge --initiated-grace-days 1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxAgeDays, "max-age-days", 0, "override max record age in days (default from config)")
	cmd.Flags().IntVar(&opts.InitiatedGraceDays, "initiated-grace-days", 0, "override grace for unconfirmed records in days (default from config)")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	maxAge := cfg.MaxAge()
	if opts.MaxAgeDays > 0 {
		maxAge = time.Duration(opts.MaxAgeDays) * 24 * time.Hour
	}
	grace := cfg.InitiatedGrace()
	if opts.InitiatedGraceDays > 0 {
		grace = time.Duration(opts.InitiatedGraceDays) * 24 * time.Hour
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open record store", err)
	}

	removed, err := st.PurgeOlderThan(time.Now(), maxAge, grace)
	if err != nil {
		return WrapExitError(ExitCommandError, "purge failed", err)
	}

	result := PurgeResult{Removed: removed, Remaining: st.Len()}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s), %d remaining.\n", result.Removed, result.Remaining)
	return nil
}

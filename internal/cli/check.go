package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vend/internal/record"
	"github.com/roach88/vend/internal/store"
)

// stuckThreshold is how long a record may sit in a non-terminal status
// before the check flags it.
const stuckThreshold = 24 * time.Hour

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
}

// CheckResult holds the health summary of a data directory.
type CheckResult struct {
	Healthy      bool           `json:"healthy"`
	DataDir      string         `json:"data_dir"`
	ByStatus     map[string]int `json:"by_status"`
	StuckItems   []string       `json:"stuck_items,omitempty"`
	FailedItems  []string       `json:"failed_items,omitempty"`
	TotalRecords int            `json:"total_records"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the health of the engine's data directory",
		Long: `Validate the config, open the record store, and summarize the
persisted records.

Exits 1 when records look stuck: a non-terminal record that has not
moved in over 24 hours usually means the validation service is down or
the engine is not running its reconciliation passes.

Examples:
  vend check
  vend check --config /etc/vend/vend.cue --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open record store", err)
	}

	result := CheckResult{
		Healthy:  true,
		DataDir:  cfg.DataDir,
		ByStatus: make(map[string]int),
	}

	now := time.Now()
	for _, rec := range st.All() {
		result.ByStatus[string(rec.Status)]++
		result.TotalRecords++

		switch {
		case rec.Status == record.StatusFailed:
			result.FailedItems = append(result.FailedItems, rec.ItemID)
		case !rec.Status.Terminal() && now.Sub(rec.UpdatedAt) > stuckThreshold:
			result.StuckItems = append(result.StuckItems, rec.ItemID)
			result.Healthy = false
		}
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputCheckText(cmd, result)
	}

	if !result.Healthy {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) appear stuck", len(result.StuckItems)))
	}
	return nil
}

func outputCheckText(cmd *cobra.Command, result CheckResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Data directory: %s\n", result.DataDir)
	fmt.Fprintf(w, "Records: %d\n", result.TotalRecords)
	for status, n := range result.ByStatus {
		fmt.Fprintf(w, "  %-20s %d\n", status, n)
	}

	if len(result.FailedItems) > 0 {
		fmt.Fprintf(w, "Failed items: %v\n", result.FailedItems)
	}
	if len(result.StuckItems) > 0 {
		fmt.Fprintf(w, "Stuck items: %v\n", result.StuckItems)
	}

	if result.Healthy {
		fmt.Fprintln(w, "Status: healthy")
	} else {
		fmt.Fprintln(w, "Status: UNHEALTHY")
	}
}

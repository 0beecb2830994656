package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vend/internal/record"
	"github.com/roach88/vend/internal/store"
)

// RecordsOptions holds flags for the records command.
type RecordsOptions struct {
	*RootOptions
	Status string // optional - filter to one status
}

// RecordRow is one purchase record in the command output.
type RecordRow struct {
	ItemID        string `json:"item_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	StoreName     string `json:"store_name,omitempty"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Price         string `json:"price,omitempty"`
	CurrencyCode  string `json:"currency_code,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// RecordsResult holds the complete records output.
type RecordsResult struct {
	Records []RecordRow `json:"records"`
	Total   int         `json:"total"`
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List persisted purchase records",
		Long: `List the purchase records in the engine's record store.

Every listed record is an unfinished or failed purchase: finalized
purchases are deleted on completion and never appear here.

Examples:
  vend records
  vend records --status failed
  vend records --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecords(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (initiated|awaiting_validation|ready_to_finalize|failed)")

	return cmd
}

func runRecords(opts *RecordsOptions, cmd *cobra.Command) error {
	if opts.Status != "" && !record.Status(opts.Status).Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown status %q", opts.Status))
	}

	cfg, err := opts.LoadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open record store", err)
	}

	recs := st.All()
	sort.Slice(recs, func(i, j int) bool { return recs[i].ItemID < recs[j].ItemID })

	result := RecordsResult{Records: []RecordRow{}}
	for _, rec := range recs {
		if opts.Status != "" && string(rec.Status) != opts.Status {
			continue
		}
		result.Records = append(result.Records, RecordRow{
			ItemID:        rec.ItemID,
			TransactionID: rec.TransactionID,
			StoreName:     rec.StoreName,
			Status:        string(rec.Status),
			ErrorMessage:  rec.ErrorMessage,
			Price:         rec.Price,
			CurrencyCode:  rec.CurrencyCode,
			UpdatedAt:     rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	result.Total = len(result.Records)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputRecordsText(cmd, result)
}

func outputRecordsText(cmd *cobra.Command, result RecordsResult) error {
	w := cmd.OutOrStdout()

	if result.Total == 0 {
		fmt.Fprintln(w, "No purchase records.")
		return nil
	}

	fmt.Fprintf(w, "%-24s %-20s %-10s %-20s %s\n", "ITEM", "STATUS", "STORE", "UPDATED", "DETAIL")
	for _, row := range result.Records {
		detail := row.TransactionID
		if row.ErrorMessage != "" {
			detail = row.ErrorMessage
		}
		fmt.Fprintf(w, "%-24s %-20s %-10s %-20s %s\n",
			truncate(row.ItemID, 24),
			row.Status,
			row.StoreName,
			row.UpdatedAt,
			detail,
		)
	}
	fmt.Fprintf(w, "\n%d record(s)\n", result.Total)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

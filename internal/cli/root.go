// Package cli implements the vend operator CLI: inspection and
// maintenance commands over a purchase engine's data directory. The
// commands read the same record store and journal the engine writes;
// they never drive the purchase lifecycle themselves.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vend/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// LoadConfig resolves the effective configuration for a command run.
func (o *RootOptions) LoadConfig() (config.Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = config.DefaultFileName
	}
	return config.Load(path)
}

// NewRootCommand creates the root command for the vend CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vend",
		Short: "vend - purchase lifecycle engine tooling",
		Long:  "Inspect and maintain the durable state of a vend purchase engine.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default ./"+config.DefaultFileName+")")

	cmd.AddCommand(NewRecordsCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

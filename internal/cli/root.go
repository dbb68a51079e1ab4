package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the dilog CLI: an operator tool over .dilog trace
// files, separate from the library API instrumented applications call
// (spec §6). It never opens a channel and never writes to a trace file;
// both subcommands are read-only inspectors.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dilog",
		Short: "dilog - divergence log inspector",
		Long: `dilog locates the first point at which two runs of an otherwise
deterministic application diverge in their observable behavior.

This command inspects .dilog trace files written by the dilog library; it
does not itself record or replay a live application.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

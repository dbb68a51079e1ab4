package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtjones/dilog/internal/codec"
	"github.com/rtjones/dilog/internal/trace"
)

// ValidateEntry reports one malformed line found while parsing a trace
// file end to end.
type ValidateEntry struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ValidateResult is the outcome of validating one trace file.
type ValidateResult struct {
	Path   string          `json:"path"`
	Valid  bool            `json:"valid"`
	Lines  int             `json:"lines"`
	Errors []ValidateEntry `json:"errors,omitempty"`
}

// NewValidateCommand builds the "dilog validate" subcommand: parse a
// trace file end to end and report any MalformedTrace lines (spec §7)
// without needing a live application to replay against it.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <trace-file>",
		Short: "Check a .dilog trace file for grammar violations",
		Long: `Parse a .dilog trace file end to end and report any line that does not
conform to the trace grammar (spec §4.1), without needing a live
application to replay against it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open trace file", err)
	}
	defer f.Close()

	cur := trace.NewCursor(f)
	result := ValidateResult{Path: path, Valid: true}
	for {
		beforeLine := cur.Line()
		_, rerr := cur.ReadLine()
		if rerr != nil {
			if errors.Is(rerr, trace.ErrEndOfTrace) {
				break
			}
			var malformed *codec.MalformedError
			if errors.As(rerr, &malformed) {
				result.Valid = false
				result.Errors = append(result.Errors, ValidateEntry{
					Line:    beforeLine + 1,
					Message: malformed.Error(),
				})
				formatter.VerboseLog("line %d: %s", beforeLine+1, malformed.Error())
				continue
			}
			return WrapExitError(ExitCommandError, "read trace file", rerr)
		}
	}
	result.Lines = cur.Line()

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
		if !result.Valid {
			return NewExitError(ExitFailure, fmt.Sprintf("%d malformed line(s)", len(result.Errors)))
		}
		return nil
	}
	return outputValidateText(formatter, result)
}

func outputValidateText(f *OutputFormatter, result ValidateResult) error {
	if result.Valid {
		fmt.Fprintf(f.Writer, "valid: %d line(s)\n", result.Lines)
		return nil
	}
	fmt.Fprintf(f.Writer, "invalid: %d of %d line(s) malformed\n", len(result.Errors), result.Lines)
	for _, e := range result.Errors {
		fmt.Fprintf(f.Writer, "  line %d: %s\n", e.Line, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d malformed line(s)", len(result.Errors)))
}

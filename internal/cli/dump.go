package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rtjones/dilog/internal/codec"
	"github.com/rtjones/dilog/internal/trace"
)

// DumpEntry is one line of a parsed trace file, rendered for either text
// or JSON output.
type DumpEntry struct {
	Depth  int    `json:"depth"`
	Kind   string `json:"kind"`
	Prefix string `json:"prefix"`
	Text   string `json:"text,omitempty"`
}

// DumpResult is the full parse of one trace file.
type DumpResult struct {
	Path    string      `json:"path"`
	Entries []DumpEntry `json:"entries"`
}

// NewDumpCommand builds the "dilog dump" subcommand: render a .dilog
// trace file back to a readable indented tree of channel, block
// iterations, and messages. It is purely descriptive and does not
// participate in matching.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <trace-file>",
		Short: "Render a .dilog trace file as an indented tree",
		Long: `Render a .dilog trace file as an indented tree of block iterations and
messages, useful for understanding why a divergence was reported without
re-running the instrumented application.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runDump(opts *RootOptions, path string, cmd *cobra.Command) error {
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
	result := DumpResult{Path: path}
	depth := 0
	for {
		line, rerr := cur.ReadLine()
		if rerr != nil {
			if errors.Is(rerr, trace.ErrEndOfTrace) {
				break
			}
			var malformed *codec.MalformedError
			if errors.As(rerr, &malformed) {
				return WrapExitError(ExitFailure, fmt.Sprintf("malformed trace at line %d", cur.Line()), rerr)
			}
			return WrapExitError(ExitCommandError, "read trace file", rerr)
		}

		if line.Kind == codec.Close && depth > 0 {
			depth--
		}
		formatter.VerboseLog("line %d: %s %s", cur.Line(), line.Kind, line.Prefix)
		result.Entries = append(result.Entries, DumpEntry{
			Depth:  depth,
			Kind:   line.Kind.String(),
			Prefix: line.Prefix,
			Text:   line.Text,
		})
		if line.Kind == codec.Open {
			depth++
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputDumpText(formatter, result)
}

func outputDumpText(f *OutputFormatter, result DumpResult) error {
	if len(result.Entries) == 0 {
		fmt.Fprintln(f.Writer, "(empty trace)")
		return nil
	}
	for _, e := range result.Entries {
		indent := strings.Repeat("  ", e.Depth)
		switch e.Kind {
		case "message":
			fmt.Fprintf(f.Writer, "%s%s: %q\n", indent, e.Prefix, e.Text)
		case "block-open":
			fmt.Fprintf(f.Writer, "%s%s {\n", indent, e.Prefix)
		case "block-close":
			fmt.Fprintf(f.Writer, "%s}\n", indent)
		}
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/scriptbox"
)

func validateCmd(g *globalFlags) *cobra.Command {
	var module bool
	cmd := &cobra.Command{
		Use:   "validate [file|-]",
		Short: "Screen a script without running it",
		Long:  "Checks the script against the policy and reports every violation. Exits 1 when the script would be rejected.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if module && len(args) != 1 {
				return fmt.Errorf("--module needs a path")
			}
			// Validation never executes, so no child process is needed.
			g.isolation = scriptbox.IsolationThread.String()
			r, err := g.newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			var v scriptbox.Validation
			if module {
				v, err = r.ValidateModule(args[0])
			} else {
				var src string
				if src, err = readSource(cmd.InOrStdin(), args); err == nil {
					v = r.Validate(src)
				}
			}
			if err != nil {
				return err
			}
			if g.jsonLogs {
				err = writeJSON(cmd.OutOrStdout(), v)
			} else {
				writeReport(cmd.OutOrStdout(), v, r.Policy().Version())
			}
			if err != nil {
				return err
			}
			if !v.Valid {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&module, "module", false, "load the file like the module command, honoring --module-root and .zst")
	return cmd
}

// writeReport prints a human-readable validation report.
func writeReport(w io.Writer, v scriptbox.Validation, policyVersion string) {
	bold := color.New(color.Bold)
	if v.Valid {
		fmt.Fprintln(w, color.GreenString("PASS"), bold.Sprint("script is allowed"))
	} else {
		fmt.Fprintln(w, color.RedString("FAIL"), bold.Sprintf("%d violation(s)", len(v.Violations)))
		for _, msg := range v.Violations {
			fmt.Fprintf(w, "  %s %s\n", color.RedString("x"), msg)
		}
	}
	fmt.Fprintf(w, "%s policy %s, %d imports, %d calls, %d attributes inspected\n",
		color.CyanString("i"), policyVersion, v.Stats.Imports, v.Stats.Calls, v.Stats.Attributes)
}

func capsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Report what the sandbox enforces on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := g.newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			return writeJSON(cmd.OutOrStdout(), r.Capabilities())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

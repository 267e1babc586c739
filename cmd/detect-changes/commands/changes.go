package commands

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/goplus/detect-changes/pkg/observability"
	"github.com/goplus/detect-changes/pkg/output"
)

func (a *app) newChangesCommand() *cobra.Command {
	var (
		base    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "changes [TO_REF]",
		Short: "List the package modules that need rebuilding",
		Long: `List the Go module paths of the packages changed since a base revision.

TO_REF defaults to HEAD. Detection logs are hidden unless --verbose is set,
and are printed to stderr if validation fails.`,
		Example: "  detect-changes changes\n  detect-changes changes -b main -v",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := "HEAD"
			if len(args) == 1 {
				to = args[0]
			}

			sess, err := a.start(cmd, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer sess.close()

			var (
				quiet   bytes.Buffer
				console io.Writer = &quiet
			)

			if verbose {
				console = cmd.OutOrStdout()
			}

			report, err := sess.detect(cmd.Context(), console, base, to)
			if err != nil {
				if !verbose {
					_, dumpErr := quiet.WriteTo(cmd.ErrOrStderr())
					if dumpErr != nil {
						sess.providers.Logger.Debug("writing detection log failed", "error", dumpErr)
					}
				}

				return err
			}

			err = output.NewEmitter(io.Discard, sess.cfg.OutputFile).Emit(report.Result())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if len(report.Dirs) == 0 {
				fmt.Fprintln(out, "No package changes detected.")

				return nil
			}

			fmt.Fprintln(out, "Changed packages that need rebuilding:")

			for _, dir := range report.Dirs {
				fmt.Fprintln(out, sess.cfg.ModulePath(dir))
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&base, "base", "b", "HEAD~1", "Base revision to compare against")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detection logs")

	return cmd
}

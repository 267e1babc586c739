package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/goplus/detect-changes/pkg/detect"
	"github.com/goplus/detect-changes/pkg/observability"
)

func (a *app) newListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the package directories of the working tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.start(cmd, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer sess.close()

			packages, err := sess.detector(nil, nil).Packages(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), packages)
			}

			renderPackages(cmd.OutOrStdout(), packages)

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print packages as JSON")

	return cmd
}

func renderPackages(w io.Writer, packages []detect.Package) {
	if len(packages) == 0 {
		fmt.Fprintln(w, "No packages found.")

		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = true

	tbl.AppendHeader(table.Row{"Dir", "Name", "Version", "Source", "Size", "Status"})

	var total int64

	for _, pkg := range packages {
		total += pkg.Size

		tbl.AppendRow(table.Row{
			pkg.Dir, pkg.Name, pkg.Version, pkg.Source,
			humanize.Bytes(uint64(max(pkg.Size, 0))), statusLabel(pkg.Status),
		})
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("Total: %d packages", len(packages)), "", "", "",
		humanize.Bytes(uint64(max(total, 0))), "",
	})

	tbl.Render()
}

func statusLabel(status detect.Status) string {
	switch status {
	case detect.StatusOK:
		return color.GreenString(string(status))
	case detect.StatusMismatch:
		return color.YellowString(string(status))
	default:
		return color.RedString(string(status))
	}
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(value)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goplus/detect-changes/pkg/detect"
	"github.com/goplus/detect-changes/pkg/manifest"
	"github.com/goplus/detect-changes/pkg/observability"
)

func (a *app) newValidateCommand() *cobra.Command {
	var (
		schemaPath string
		useSchema  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every package manifest of the working tree",
		Long: `Check every package manifest of the working tree.

Unlike detection, which stops at the first bad manifest, validate reports all
of them. With --schema each manifest is also checked against the lib.yaml JSON
schema, or against the schema file given by --schema-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.start(cmd, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer sess.close()

			det := sess.detector(nil, nil)

			var packages []detect.Package

			if useSchema || schemaPath != "" {
				schema, schemaErr := loadSchema(schemaPath)
				if schemaErr != nil {
					return schemaErr
				}

				packages, err = det.Audit(cmd.Context(), schema)
			} else {
				packages, err = det.Packages(cmd.Context())
			}

			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0

			for _, pkg := range packages {
				if pkg.Status == detect.StatusOK {
					color.New(color.FgGreen).Fprintf(out, "ok    %s\n", pkg.Dir)

					continue
				}

				failed++

				color.New(color.FgRed).Fprintf(out, "FAIL  %s\n", pkg.Dir)

				for _, problem := range pkg.Problems {
					fmt.Fprintf(out, "      %s\n", problem)
				}
			}

			fmt.Fprintf(out, "%d packages checked, %d failed\n", len(packages), failed)

			if detect.Failed(packages) {
				return ErrChecksFailed
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&useSchema, "schema", false, "Also check manifests against the lib.yaml JSON schema")
	cmd.Flags().StringVar(&schemaPath, "schema-file", "", "Check manifests against this JSON schema file")

	return cmd
}

func loadSchema(path string) (*manifest.Schema, error) {
	if path == "" {
		return manifest.DefaultSchema()
	}

	return manifest.LoadSchema(path)
}

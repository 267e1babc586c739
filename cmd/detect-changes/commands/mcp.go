package commands

import (
	"github.com/spf13/cobra"

	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/mcp"
	"github.com/goplus/detect-changes/pkg/observability"
)

func (a *app) newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes change detection as tools that AI agents can discover
and invoke:
  - detect_changes: changed package directories between two revisions
  - list_packages: package manifests of a working tree`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.opts.logJSON = true

			sess, err := a.start(cmd, observability.ModeMCP)
			if err != nil {
				return err
			}
			defer sess.close()

			red, err := observability.NewREDMetrics(sess.providers.Meter)
			if err != nil {
				return err
			}

			cfg := sess.cfg
			srv := mcp.NewServer(mcp.ServerDeps{
				Settings: mcp.Settings{
					ManifestName: cfg.ManifestName,
					Excluded:     cfg.ExcludedDirs,
					Backend:      cfg.Backend,
					GitBinary:    cfg.GitBinary,
				},
				Open: func(backend, dir string) (gitlib.VCS, func(), error) {
					return a.openVCS(backend, dir, cfg.GitBinary)
				},
				Logger:        sess.providers.Logger,
				Metrics:       red,
				DetectMetrics: sess.metrics,
				Tracer:        sess.providers.Tracer,
			})

			return srv.Run(cmd.Context())
		},
	}
}

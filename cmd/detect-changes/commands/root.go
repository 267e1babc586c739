// Package commands implements CLI command handlers for detect-changes.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goplus/detect-changes/internal/config"
	"github.com/goplus/detect-changes/pkg/detect"
	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/manifest"
	"github.com/goplus/detect-changes/pkg/observability"
	"github.com/goplus/detect-changes/pkg/output"
	"github.com/goplus/detect-changes/pkg/version"
)

var (
	// ErrUsage is returned when the positional arguments are missing.
	// The usage text has already been printed.
	ErrUsage = errors.New("usage error")
	// ErrChecksFailed is returned by validate when a package fails. The
	// failures have already been printed.
	ErrChecksFailed = errors.New("package checks failed")
)

type vcsOpener func(backend, dir, binary string) (gitlib.VCS, func(), error)

type observabilityInit func(cfg observability.Config) (observability.Providers, error)

// rootOptions holds the persistent flag values shared by every command.
type rootOptions struct {
	configPath  string
	dir         string
	backend     string
	debug       bool
	logJSON     bool
	noColor     bool
	metricsFile string
	outputFile  string
}

// app carries the parsed flags and the injectable dependencies.
type app struct {
	opts    rootOptions
	openVCS vcsOpener
	initObs observabilityInit
}

// NewRootCommand creates the detect-changes root command with all subcommands.
func NewRootCommand() *cobra.Command {
	return newRootCommandWithDeps(gitlib.Open, observability.Init)
}

func newRootCommandWithDeps(openVCS vcsOpener, initObs observabilityInit) *cobra.Command {
	a := &app{openVCS: openVCS, initObs: initObs}

	cmd := &cobra.Command{
		Use:   "detect-changes FROM_REF TO_REF",
		Short: "Detect changed package directories between two revisions",
		Long: `Detect which top-level package directories changed between two revisions.

A package directory is a top-level directory holding a lib.yaml manifest whose
name matches the directory. Every manifest in the working tree is checked, and
the result is printed as CHANGED_DIRS=... and has_changes=... lines, also
appended to $GITHUB_OUTPUT when set.`,
		Example:       "  detect-changes main HEAD",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runDetect,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "Config file (default: .detect-changes.yaml in . or $HOME)")
	flags.StringVarP(&a.opts.dir, "dir", "C", ".", "Top level of the working tree")
	flags.StringVar(&a.opts.backend, "backend", "", "Version control backend: git or libgit2")
	flags.BoolVar(&a.opts.debug, "debug", false, "Enable debug logging to stderr")
	flags.BoolVar(&a.opts.logJSON, "log-json", false, "Log as JSON")
	flags.BoolVar(&a.opts.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&a.opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.StringVar(&a.opts.outputFile, "output-file", "", "Append results to this file (default: $GITHUB_OUTPUT)")

	cmd.AddCommand(
		a.newChangesCommand(),
		a.newListCommand(),
		a.newValidateCommand(),
		a.newMCPCommand(),
		newVersionCommand(),
	)

	return cmd
}

func (a *app) runDetect(cmd *cobra.Command, args []string) error {
	if len(args) < 2 {
		name := cmd.Root().Name()
		fmt.Fprintf(cmd.OutOrStdout(), "Usage: %s FROM_REF TO_REF\nExample: %s main HEAD\n", name, name)

		return ErrUsage
	}

	sess, err := a.start(cmd, observability.ModeCLI)
	if err != nil {
		return err
	}
	defer sess.close()

	report, err := sess.detect(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
	if err != nil {
		return err
	}

	return output.NewEmitter(cmd.OutOrStdout(), sess.cfg.OutputFile).Emit(report.Result())
}

// session is the per-command runtime: effective config and telemetry.
type session struct {
	app       *app
	cfg       *config.Config
	providers observability.Providers
	metrics   *observability.DetectMetrics
}

func (a *app) start(cmd *cobra.Command, mode observability.AppMode) (*session, error) {
	cfg, err := config.LoadConfig(a.opts.configPath)
	if err != nil {
		return nil, err
	}

	a.applyFlags(cmd, cfg)

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate flags: %w", err)
	}

	if a.opts.noColor && !color.NoColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	obsCfg := cfg.Observability(mode, version.Version)
	obsCfg.LogWriter = cmd.ErrOrStderr()

	providers, err := a.initObs(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	metrics, err := observability.NewDetectMetrics(providers.Meter)
	if err != nil {
		shutdownErr := providers.Shutdown(context.Background())

		return nil, errors.Join(err, shutdownErr)
	}

	providers.Logger.Debug("configuration loaded",
		"dir", a.opts.dir, "backend", cfg.Backend, "manifest", cfg.ManifestName,
		"output_file", cfg.OutputFile)

	return &session{app: a, cfg: cfg, providers: providers, metrics: metrics}, nil
}

// applyFlags overrides config values with explicitly set flags.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("backend") {
		cfg.Backend = a.opts.backend
	}

	if flags.Changed("metrics-file") {
		cfg.MetricsFile = a.opts.metricsFile
	}

	if flags.Changed("output-file") {
		cfg.OutputFile = a.opts.outputFile
	}

	if a.opts.debug {
		cfg.Logging.Level = "debug"
	}

	if a.opts.logJSON {
		cfg.Logging.JSON = true
	}
}

func (s *session) close() {
	err := s.providers.Shutdown(context.Background())
	if err != nil {
		s.providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}

func (s *session) detector(vcs gitlib.VCS, console io.Writer) *detect.Detector {
	return detect.New(detect.Deps{
		VCS:       vcs,
		Manifests: manifest.NewLoader(s.app.opts.dir, s.cfg.ManifestName),
		Console:   console,
		Logger:    s.providers.Logger,
		Tracer:    s.providers.Tracer,
		Metrics:   s.metrics,
		Excluded:  s.cfg.ExcludedDirs,
	})
}

// detect opens the configured backend and runs one detection.
func (s *session) detect(ctx context.Context, console io.Writer, from, to string) (*detect.Report, error) {
	vcs, closeVCS, err := s.app.openVCS(s.cfg.Backend, s.app.opts.dir, s.cfg.GitBinary)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	defer closeVCS()

	return s.detector(vcs, console).Run(ctx, from, to)
}

// Reported reports whether err was already described to the user.
func Reported(err error) bool {
	return errors.Is(err, ErrUsage) || errors.Is(err, ErrChecksFailed) || detect.IsValidation(err)
}

// ExitCode maps a command error to the process exit code, printing errors
// that were not already reported.
func ExitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}

	if !Reported(err) {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
	}

	return 1
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

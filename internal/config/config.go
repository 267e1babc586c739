package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/manifest"
	"github.com/goplus/detect-changes/pkg/observability"
)

// Config is the top-level configuration struct for detect-changes.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	ManifestName string          `mapstructure:"manifest_name"`
	ExcludedDirs []string        `mapstructure:"excluded_dirs"`
	Backend      string          `mapstructure:"backend"`
	GitBinary    string          `mapstructure:"git_binary"`
	ModulePrefix string          `mapstructure:"module_prefix"`
	OutputFile   string          `mapstructure:"output_file"`
	MetricsFile  string          `mapstructure:"metrics_file"`
	Logging      LoggingConfig   `mapstructure:"logging"`
	Telemetry    TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig controls diagnostic logging on stderr.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OTLP export settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string `mapstructure:"otlp_headers"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// Default values.
const (
	DefaultManifestName = manifest.FileName
	DefaultBackend      = gitlib.BackendGit
	DefaultGitBinary    = gitlib.DefaultBinary
	DefaultModulePrefix = "github.com/goplus/clibs"
	DefaultLogLevel     = "info"
)

// DefaultExcludedDirs returns the configured extra exclusions, none by
// default. Dot directories and build are always skipped by the detector.
func DefaultExcludedDirs() []string {
	return []string{}
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidBackend indicates an unsupported backend value.
	ErrInvalidBackend = errors.New("backend must be git or libgit2")
	// ErrInvalidManifestName indicates an empty manifest name or one with a path separator.
	ErrInvalidManifestName = errors.New("manifest_name must be a plain file name")
	// ErrInvalidExcludedDir indicates an empty excluded_dirs entry or one with a path separator.
	ErrInvalidExcludedDir = errors.New("excluded_dirs entries must be plain directory names")
	// ErrInvalidGitBinary indicates an empty git_binary.
	ErrInvalidGitBinary = errors.New("git_binary must not be empty")
	// ErrInvalidLogLevel indicates an unparsable logging.level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	switch c.Backend {
	case gitlib.BackendGit, gitlib.BackendLibgit2:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}

	if !plainName(c.ManifestName) {
		return fmt.Errorf("%w: %q", ErrInvalidManifestName, c.ManifestName)
	}

	for _, dir := range c.ExcludedDirs {
		if !plainName(dir) {
			return fmt.Errorf("%w: %q", ErrInvalidExcludedDir, dir)
		}
	}

	if strings.TrimSpace(c.GitBinary) == "" {
		return ErrInvalidGitBinary
	}

	_, err := observability.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return nil
}

// Observability maps the logging and telemetry settings onto an
// observability.Config for the given mode.
func (c *Config) Observability(mode observability.AppMode, version string) observability.Config {
	obsCfg := observability.DefaultConfig()
	obsCfg.Mode = mode
	obsCfg.ServiceVersion = version
	obsCfg.LogJSON = c.Logging.JSON
	obsCfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	obsCfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	obsCfg.MetricsFile = c.MetricsFile

	level, err := observability.ParseLogLevel(c.Logging.Level)
	if err == nil {
		obsCfg.LogLevel = level
	}

	return obsCfg
}

// ModulePath returns the import path of a package directory.
func (c *Config) ModulePath(dir string) string {
	prefix := strings.TrimRight(c.ModulePrefix, "/")
	if prefix == "" {
		return dir
	}

	return prefix + "/" + dir
}

func plainName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

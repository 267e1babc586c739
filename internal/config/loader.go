// Package config loads detect-changes settings from an optional YAML file,
// DETECT_CHANGES_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/goplus/detect-changes/pkg/output"
)

// configName is the config file name without extension.
const configName = ".detect-changes"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for detect-changes settings.
const envPrefix = "DETECT_CHANGES"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Externally defined environment variables mapped onto config keys.
const (
	envOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	bindErr := bindEnv(viperCfg)
	if bindErr != nil {
		return nil, bindErr
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("manifest_name", DefaultManifestName)
	viperCfg.SetDefault("excluded_dirs", DefaultExcludedDirs())
	viperCfg.SetDefault("backend", DefaultBackend)
	viperCfg.SetDefault("git_binary", DefaultGitBinary)
	viperCfg.SetDefault("module_prefix", DefaultModulePrefix)
	viperCfg.SetDefault("output_file", "")
	viperCfg.SetDefault("metrics_file", "")

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.json", false)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
}

// bindEnv maps keys that also answer to variables outside the prefix.
// The prefixed name is listed first and wins when both are set.
func bindEnv(viperCfg *viper.Viper) error {
	bindings := map[string]string{
		"output_file":             output.EnvOutputFile,
		"telemetry.otlp_endpoint": envOTLPEndpoint,
		"telemetry.otlp_headers":  envOTLPHeaders,
	}

	for key, external := range bindings {
		prefixed := envPrefix + envKeySeparator + strings.ToUpper(strings.ReplaceAll(key, ".", envKeySeparator))

		err := viperCfg.BindEnv(key, prefixed, external)
		if err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	return nil
}

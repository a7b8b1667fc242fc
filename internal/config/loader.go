package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRERELAY"
	envConfigDefaultPath = envPrefix + "_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load resolves configuration and returns it with the config file path used.
// Precedence: defaults < config file < WIRERELAY_* env vars < caller overrides
// applied afterwards with UpdateFrom. A missing config file is created from
// the defaults.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()
	path := resolveConfigPath(explicitPath)

	v := newViper(cfg)
	v.SetConfigFile(path)

	if err := readOrCreate(v, logger, path, cfg); err != nil {
		return cfg, path, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, path, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func newViper(defaults Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range map[string]any{
		"addr":                           defaults.Addr,
		"admin_addr":                     defaults.AdminAddr,
		"log_level":                      defaults.LogLevel,
		"log_file":                       defaults.LogFile,
		"handshake_timeout":              defaults.HandshakeTimeout,
		"idle_timeout":                   defaults.IdleTimeout,
		"write_timeout":                  defaults.WriteTimeout,
		"shutdown_timeout":               defaults.ShutdownTimeout,
		"max_payload_bytes":              defaults.MaxPayloadBytes,
		"escape_messages":                defaults.EscapeMessages,
		"rate_limit.messages_per_second": defaults.RateLimit.MessagesPerSecond,
		"rate_limit.burst":               defaults.RateLimit.Burst,
	} {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readOrCreate(v *viper.Viper, logger *zerolog.Logger, path string, defaults Config) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	if writeErr := writeDefaultConfig(path, defaults); writeErr != nil {
		if logger != nil {
			logger.Warn().Err(writeErr).Str("path", path).Msg("failed to write default config")
		}
		// Defaults and env vars still apply without a file.
		return nil
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("created default config")
	}
	if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
		logger.Warn().Err(readErr).Str("path", path).Msg("failed to read config after writing default")
	}
	return nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

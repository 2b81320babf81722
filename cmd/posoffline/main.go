package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.posoffline/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Storage ConfigStorage `toml:"storage"`
	Queue   ConfigQueue   `toml:"queue"`
	Monitor ConfigMonitor `toml:"monitor"`
	Serve   ConfigServe   `toml:"serve"`
}

// ConfigDefault holds the POS API connection.
type ConfigDefault struct {
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url" validate:"omitempty,url"`
	StationID string `toml:"station_id"`
}

// ConfigStorage selects the local database.
type ConfigStorage struct {
	Path string `toml:"path"`
}

// ConfigQueue tunes replay. Durations use Go syntax ("2s", "5m").
type ConfigQueue struct {
	MaxAttempts   int    `toml:"max_attempts" validate:"gte=0,lte=100"`
	BaseDelay     string `toml:"base_delay" validate:"omitempty,duration"`
	MaxDelay      string `toml:"max_delay" validate:"omitempty,duration"`
	FlushInterval string `toml:"flush_interval" validate:"omitempty,duration"`
}

// ConfigMonitor points at the heartbeat socket used by `serve`.
type ConfigMonitor struct {
	URL       string `toml:"url" validate:"omitempty,url"`
	Heartbeat string `toml:"heartbeat" validate:"omitempty,duration"`
}

// ConfigServe configures the local status API.
type ConfigServe struct {
	Addr string `toml:"addr" validate:"omitempty,hostname_port"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.posoffline, creating it if needed.
func configDir() (string, error) {
	if dir := os.Getenv("POSOFFLINE_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("cannot create config directory: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".posoffline")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and validates the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

func validateConfig(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.api_key").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.api_key)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "api_key":
			cfg.Default.APIKey = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "station_id":
			cfg.Default.StationID = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "storage":
		switch field {
		case "path":
			cfg.Storage.Path = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	case "queue":
		switch field {
		case "max_attempts":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("queue.max_attempts must be an integer: %w", err)
			}
			cfg.Queue.MaxAttempts = n
		case "base_delay":
			cfg.Queue.BaseDelay = value
		case "max_delay":
			cfg.Queue.MaxDelay = value
		case "flush_interval":
			cfg.Queue.FlushInterval = value
		default:
			return fmt.Errorf("unknown field %q in section [queue]", field)
		}
	case "monitor":
		switch field {
		case "url":
			cfg.Monitor.URL = value
		case "heartbeat":
			cfg.Monitor.Heartbeat = value
		default:
			return fmt.Errorf("unknown field %q in section [monitor]", field)
		}
	case "serve":
		switch field {
		case "addr":
			cfg.Serve.Addr = value
		default:
			return fmt.Errorf("unknown field %q in section [serve]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, storage, queue, monitor, serve)", section)
	}
	return validateConfig(cfg)
}

// ============================================================================
// Root command
// ============================================================================

var (
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "posoffline",
	Short: "POS offline layer CLI",
	Long:  "Command-line interface for the POS offline layer.\nInspect and replay the action queue, manage the response cache, and serve the local status API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "table", "json", "yaml":
			return nil
		}
		return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", outputFormat)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log SDK activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds the process-wide configuration for a selkies-core session.
// Populated via Load from an optional YAML file plus SELKIES_-prefixed
// environment overrides.
type Config struct {
	SessionID string `mapstructure:"session_id"`
	AppName   string `mapstructure:"app_name"`
	// Path is the signaling endpoint's base path; the client builds
	// "${scheme}://${host}${Path}/${AppName}/signaling/" from it.
	Path string `mapstructure:"path"`

	ServerURL  string `mapstructure:"server_url"`
	AuthToken  string `mapstructure:"auth_token"`
	TurnURL    string `mapstructure:"turn_url"`
	ForceRelay bool   `mapstructure:"force_relay"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// StatsIntervalSeconds is the Stats Aggregator sampling period (§4.G).
	StatsIntervalSeconds int `mapstructure:"stats_interval_seconds"`
	// ResizeDebounceMs is the Rendering Geometry Controller resize trailing-edge window (§4.E).
	ResizeDebounceMs int `mapstructure:"resize_debounce_ms"`

	// SettingsSchemaFile points at the declarative settings schema (§4.D, §9).
	SettingsSchemaFile string `mapstructure:"settings_schema_file"`
	// StateDir is where persisted settings and upload staging live.
	StateDir string `mapstructure:"state_dir"`

	// AuxHighWaterMarkBytes / AuxLowWaterMarkBytes are checked by
	// ValidateTiered but are not passed to the transport, which uses its
	// built-in 1 MiB / 256 KiB aux back-pressure thresholds (§4.B).
	AuxHighWaterMarkBytes int `mapstructure:"aux_high_water_mark_bytes"`
	AuxLowWaterMarkBytes  int `mapstructure:"aux_low_water_mark_bytes"`

	// ReconnectInitialBackoffMs / ReconnectMaxBackoffMs are checked by
	// ValidateTiered but are not passed to the signaling client, whose
	// exponential backoff uses fixed 1 s / 60 s bounds (§4.A).
	ReconnectInitialBackoffMs int `mapstructure:"reconnect_initial_backoff_ms"`
	ReconnectMaxBackoffMs     int `mapstructure:"reconnect_max_backoff_ms"`
}

// Default returns a Config populated with the spec's defaults.
func Default() *Config {
	return &Config{
		AppName:                   "webrtc",
		LogLevel:                  "info",
		LogFormat:                 "text",
		StatsIntervalSeconds:      1,
		ResizeDebounceMs:          500,
		SettingsSchemaFile:        "settings_schema.yaml",
		StateDir:                  defaultStateDir(),
		AuxHighWaterMarkBytes:     1 << 20, // 1 MiB
		AuxLowWaterMarkBytes:      256 << 10,
		ReconnectInitialBackoffMs: 1000,
		ReconnectMaxBackoffMs:     60000,
	}
}

// Load reads config from cfgFile (or the default search path if empty),
// applies environment overrides, and validates the result. Fatal validation
// errors block startup; warnings are logged and clamped in place.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("selkies-core")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SELKIES")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			slog.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

// Save persists cfg to the default config file location.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo persists cfg to cfgFile, or the default location when empty.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("session_id", cfg.SessionID)
	viper.Set("app_name", cfg.AppName)
	viper.Set("path", cfg.Path)
	viper.Set("server_url", cfg.ServerURL)
	viper.Set("turn_url", cfg.TurnURL)
	viper.Set("force_relay", cfg.ForceRelay)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("stats_interval_seconds", cfg.StatsIntervalSeconds)
	viper.Set("resize_debounce_ms", cfg.ResizeDebounceMs)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "selkies-core.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "selkies-core", "state")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "selkies-core")
	default:
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".local", "state", "selkies-core")
		}
		return "/var/lib/selkies-core"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "selkies-core")
	case "darwin":
		return "/Library/Application Support/selkies-core"
	default:
		return "/etc/selkies-core"
	}
}

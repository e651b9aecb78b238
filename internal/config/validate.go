package config

import (
	"fmt"
	"net/url"
	"unicode"
)

// ValidationResult separates fatal config errors (block startup) from
// warnings (logged, values clamped to a safe default in place).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateTiered checks the config for invalid values. URL/auth-shape errors
// are fatal (the process cannot usefully run); numeric out-of-range values
// are clamped to a safe bound and recorded as warnings, mirroring the
// "dangerous zero-values get clamped, everything else blocks" split used
// throughout this codebase's config validation.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("server_url %q is not a valid URL: %w", c.ServerURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
			result.Fatals = append(result.Fatals, fmt.Errorf("server_url scheme must be http(s) or ws(s), got %q", u.Scheme))
		}
	}

	if c.TurnURL != "" {
		if _, err := url.Parse(c.TurnURL); err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("turn_url %q is not a valid URL: %w", c.TurnURL, err))
		}
	}

	for _, r := range c.SessionID {
		if unicode.IsControl(r) {
			result.Fatals = append(result.Fatals, fmt.Errorf("session_id contains control characters"))
			break
		}
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.StatsIntervalSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("stats_interval_seconds %d is below minimum 1, clamping", c.StatsIntervalSeconds))
		c.StatsIntervalSeconds = 1
	} else if c.StatsIntervalSeconds > 60 {
		result.Warnings = append(result.Warnings, fmt.Errorf("stats_interval_seconds %d exceeds maximum 60, clamping", c.StatsIntervalSeconds))
		c.StatsIntervalSeconds = 60
	}

	if c.ResizeDebounceMs < 50 {
		result.Warnings = append(result.Warnings, fmt.Errorf("resize_debounce_ms %d is below minimum 50, clamping", c.ResizeDebounceMs))
		c.ResizeDebounceMs = 50
	}

	if c.AuxLowWaterMarkBytes > 0 && c.AuxHighWaterMarkBytes > 0 && c.AuxLowWaterMarkBytes >= c.AuxHighWaterMarkBytes {
		result.Warnings = append(result.Warnings, fmt.Errorf("aux_low_water_mark_bytes %d must be below aux_high_water_mark_bytes %d, resetting to defaults", c.AuxLowWaterMarkBytes, c.AuxHighWaterMarkBytes))
		c.AuxHighWaterMarkBytes = 1 << 20
		c.AuxLowWaterMarkBytes = 256 << 10
	}

	if c.ReconnectInitialBackoffMs < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("reconnect_initial_backoff_ms %d is below minimum 1, clamping", c.ReconnectInitialBackoffMs))
		c.ReconnectInitialBackoffMs = 1000
	}
	if c.ReconnectMaxBackoffMs < c.ReconnectInitialBackoffMs {
		result.Warnings = append(result.Warnings, fmt.Errorf("reconnect_max_backoff_ms %d below reconnect_initial_backoff_ms, clamping", c.ReconnectMaxBackoffMs))
		c.ReconnectMaxBackoffMs = c.ReconnectInitialBackoffMs * 60
	}

	return result
}

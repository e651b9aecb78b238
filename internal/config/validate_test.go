package config

import (
	"errors"
	"testing"
)

func TestValidateTieredInvalidURLSchemeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ServerURL = "ftp://example.com"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal for non-http(s)/ws(s) scheme")
	}
}

func TestValidateTieredValidSchemesAreAccepted(t *testing.T) {
	for _, scheme := range []string{"http://h", "https://h", "ws://h", "wss://h"} {
		cfg := Default()
		cfg.ServerURL = scheme
		result := cfg.ValidateTiered()
		if result.HasFatals() {
			t.Fatalf("scheme %q should not be fatal, got %v", scheme, result.Fatals)
		}
	}
}

func TestValidateTieredControlCharsInSessionIDIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SessionID = "abc\x00def"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal for control characters in session_id")
	}
}

func TestValidateTieredStatsIntervalClamping(t *testing.T) {
	cfg := Default()
	cfg.StatsIntervalSeconds = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamping should be a warning, not fatal: %v", result.Fatals)
	}
	if cfg.StatsIntervalSeconds != 1 {
		t.Fatalf("expected clamp to 1, got %d", cfg.StatsIntervalSeconds)
	}

	cfg.StatsIntervalSeconds = 999
	cfg.ValidateTiered()
	if cfg.StatsIntervalSeconds != 60 {
		t.Fatalf("expected clamp to 60, got %d", cfg.StatsIntervalSeconds)
	}
}

func TestValidateTieredResizeDebounceClamping(t *testing.T) {
	cfg := Default()
	cfg.ResizeDebounceMs = 1
	cfg.ValidateTiered()
	if cfg.ResizeDebounceMs != 50 {
		t.Fatalf("expected clamp to 50, got %d", cfg.ResizeDebounceMs)
	}
}

func TestValidateTieredAuxWaterMarksMustBeOrdered(t *testing.T) {
	cfg := Default()
	cfg.AuxLowWaterMarkBytes = 2 << 20
	cfg.AuxHighWaterMarkBytes = 1 << 20
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("out-of-order water marks should warn, not fail: %v", result.Fatals)
	}
	if cfg.AuxLowWaterMarkBytes >= cfg.AuxHighWaterMarkBytes {
		t.Fatalf("expected water marks to be reset to a valid ordering")
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown log level should warn, not fail: %v", result.Fatals)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected fallback to info, got %q", cfg.LogLevel)
	}
}

func TestHasFatals(t *testing.T) {
	var r ValidationResult
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, errors.New("boom"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

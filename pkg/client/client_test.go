package client

import (
	"testing"

	"github.com/selkies-project/selkies-core/internal/config"
)

func TestNewUsesMemoryStoreWithoutStateDir(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = ""
	cfg.ServerURL = "http://example.com"

	c, err := New(cfg, "session-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.State() != StateConnecting {
		t.Fatalf("expected initial state connecting, got %v", c.State())
	}
}

func TestNewGeneratesFileStorePerSlugifiedSessionID(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.ServerURL = "http://example.com"

	c, err := New(cfg, "weird session/id!")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Cleanup()
}

func TestCleanupBeforeInitializeIsSafe(t *testing.T) {
	cfg := config.Default()
	cfg.StateDir = ""
	cfg.ServerURL = "http://example.com"

	c, err := New(cfg, "session-2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Cleanup()
	c.Cleanup()
}

package settings

import (
	"path/filepath"
	"testing"
)

func TestFileStoreSetGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	fs.Set("framerate", "60")
	got, ok := fs.Get("framerate")
	if !ok || got != "60" {
		t.Fatalf("expected framerate=60, got %q ok=%v", got, ok)
	}

	fs.Delete("framerate")
	if _, ok := fs.Get("framerate"); ok {
		t.Fatal("expected framerate to be deleted")
	}
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fs.Set("video_bitrate", "4000")

	reloaded, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reload: %v", err)
	}
	got, ok := reloaded.Get("video_bitrate")
	if !ok || got != "4000" {
		t.Fatalf("expected reloaded store to contain video_bitrate=4000, got %q ok=%v", got, ok)
	}
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, ok := fs.Get("anything"); ok {
		t.Fatal("expected empty store for missing file")
	}
}

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/wolfpack/internal/config"
)

func TestWatcher_DetectsCatalogChange(t *testing.T) {
	homeDir := t.TempDir()
	catalogPath := config.CatalogPath(homeDir)

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Retry the write until the watcher reports it; notification readiness
	// varies across platforms.
	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	// Unrelated files are ignored.
	_ = os.WriteFile(filepath.Join(homeDir, "notes.txt"), []byte("x"), 0o644)
	if err := os.WriteFile(catalogPath, []byte("products: []\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if !ev.IsCatalog() {
				t.Fatalf("expected catalog.yaml event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			_ = os.WriteFile(catalogPath, []byte("products: []\n"), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for catalog.yaml change event")
		}
	}
}

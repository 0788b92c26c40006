package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/config"
)

const watcherSecret = "watcher-test-secret-0123456789abcdef"

func startWatcher(t *testing.T) (string, *config.Watcher) {
	t.Helper()
	homeDir := t.TempDir()
	t.Setenv("TASKCHAT_HOME", homeDir)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("TASKCHAT_LOG_LEVEL", "")

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	return homeDir, w
}

func writeWatchedConfig(t *testing.T, homeDir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(homeDir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	homeDir, w := startWatcher(t)
	writeWatchedConfig(t, homeDir, "log_level: debug\nauth:\n  jwt_secret: "+watcherSecret+"\n")

	select {
	case ev := <-w.Events():
		if ev.Err != nil {
			t.Fatalf("reload error: %v", ev.Err)
		}
		if filepath.Base(ev.Path) != "config.yaml" {
			t.Fatalf("path = %s", ev.Path)
		}
		if ev.Config.LogLevel != "debug" {
			t.Fatalf("log level = %q, want debug", ev.Config.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_ReportsRejectedConfig(t *testing.T) {
	homeDir, w := startWatcher(t)
	writeWatchedConfig(t, homeDir, "auth:\n  jwt_secret: short\n")

	select {
	case ev := <-w.Events():
		if ev.Err == nil {
			t.Fatalf("expected reload error, got config %+v", ev.Config)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	homeDir, w := startWatcher(t)
	if err := os.WriteFile(filepath.Join(homeDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

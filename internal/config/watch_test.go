package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9000}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) { reloads <- cfg })
	}()

	// Let the watcher arm before mutating the file.
	time.Sleep(100 * time.Millisecond)

	// A broken rewrite must keep the previous config (no reload callback),
	// and a subsequent valid write must come through.
	if err := os.WriteFile(path, []byte(`{gateway:`), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9001}}`), 0o644); err != nil {
		t.Fatalf("write valid: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloads:
			if cfg.Gateway.Port == 9001 {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("watch returned error: %v", err)
				}
				return
			}
			// A reload of intermediate content; keep waiting.
		case <-deadline:
			t.Fatal("config change never reloaded")
		}
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9000}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 1)
	go Watch(ctx, path, func(cfg *Config) { reloads <- cfg })

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case cfg := <-reloads:
		t.Fatalf("sibling file change triggered a reload: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

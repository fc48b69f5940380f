package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReload(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	w := &Watcher{Path: path, Cooldown: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates := make(chan AppConfig, 1)
	go func() {
		_ = w.Start(ctx, func(cfg AppConfig) {
			select {
			case updates <- cfg:
			default:
			}
		}, nil)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := validYAML + "\nmetrics:\n  addr: \":9100\"\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		if cfg.Metrics.Addr != ":9100" {
			t.Fatalf("reloaded config missing metrics addr: %+v", cfg.Metrics)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for reload callback")
	}
}

func TestWatcherRejectsInvalid(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	w := &Watcher{Path: path, Cooldown: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		_ = w.Start(ctx, func(AppConfig) {
			t.Error("onUpdate fired for invalid config")
		}, func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("env: \"\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-errs:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for validation error")
	}
}

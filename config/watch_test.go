package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string, ch chan AppConfig) {
	t.Helper()
	w := Watcher{Path: path, Cooldown: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, func(c AppConfig) { ch <- c }) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected watcher exit: %v", err)
		}
	})
	// fsnotify 注册是异步的，先等一会儿
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	ch := make(chan AppConfig, 4)
	startWatcher(t, path, ch)

	updated := strings.Replace(sampleConfig, "tickerIntervalMs: 1500", "tickerIntervalMs: 750", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Flux.TickerIntervalMs != 750 {
			t.Fatalf("expected reloaded interval, got %d", cfg.Flux.TickerIntervalMs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherCoalescesBurstWrites(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	ch := make(chan AppConfig, 8)
	startWatcher(t, path, ch)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
	select {
	case <-ch:
		t.Fatalf("burst writes should produce a single reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherKeepsOldConfigOnInvalidFile(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	ch := make(chan AppConfig, 4)
	startWatcher(t, path, ch)

	if err := os.WriteFile(path, []byte("env: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("invalid config must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFluxChanged(t *testing.T) {
	a := AppConfig{Flux: FluxConfig{TickerIntervalMs: 1000}}
	b := a
	if FluxChanged(a, b) {
		t.Fatalf("identical flux config reported as changed")
	}
	b.Flux.TradeIntervalMs = 10
	if !FluxChanged(a, b) {
		t.Fatalf("trade interval change not detected")
	}
}

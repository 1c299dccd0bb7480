package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkwellhq/relay/go/cmd/relay/internal/config"
)

func TestLoadFromMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	def := config.Default()
	if cfg.Addr != def.Addr || cfg.QueueSize != def.QueueSize {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, def)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	want := &config.Config{
		Addr:      ":9090",
		DataDir:   "/var/lib/relay",
		QueueSize: 128,
		Reconnect: config.Reconnect{Attempts: 3, BackoffMS: 250},
		Model:     "gpt-4o-mini",
	}
	if err := config.Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got.Addr != want.Addr || got.DataDir != want.DataDir || got.QueueSize != want.QueueSize {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Reconnect != want.Reconnect {
		t.Fatalf("reconnect = %+v, want %+v", got.Reconnect, want.Reconnect)
	}
	if got.Reconnect.Backoff() != 250*time.Millisecond {
		t.Fatalf("Backoff = %v", got.Reconnect.Backoff())
	}
}

func TestLoadFromMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadFrom(path); err == nil {
		t.Fatalf("LoadFrom accepted malformed yaml")
	}
}

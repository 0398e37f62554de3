package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesDurationsAndSizes(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/conv"
engine:
  max_attachment_bytes: 10MiB
presence:
  idle_window: 1500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.DBPath != "/tmp/conv" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if got := cfg.Presence.IdleWindow.Std(); got != 1500*time.Millisecond {
		t.Fatalf("idle window = %s", got)
	}
	if got := cfg.Engine.MaxAttachmentBytes.Int64(); got != 10<<20 {
		t.Fatalf("max attachment = %d", got)
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Presence.IdleWindow.Std() != DefaultIdleWindow {
		t.Fatalf("idle window = %s", cfg.Presence.IdleWindow.Std())
	}
	if cfg.Engine.HistoryPageSize != DefaultHistoryPage || cfg.Engine.SubscriberBuffer != DefaultSubscriberBuffer {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.MaxAttachmentBytes.Int64() != DefaultMaxAttachment {
		t.Fatalf("max attachment = %d", cfg.Engine.MaxAttachmentBytes.Int64())
	}
	if cfg.Presence.PublishRPS != DefaultPublishRPS || cfg.Presence.PublishBurst != DefaultPublishBurst {
		t.Fatalf("presence = %+v", cfg.Presence)
	}
}

func TestEffectiveConfigFileWins(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "10.0.0.1"
  port: 7000
  db_path: "/data/conv"
`)
	flags := Flags{Addr: ":8080", DB: "./.database", Config: path, Set: map[string]bool{}}
	eff, err := LoadEffectiveConfig(flags)
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if eff.Addr != "10.0.0.1:7000" || eff.DBPath != "/data/conv" {
		t.Fatalf("eff = %+v", eff)
	}
	if eff.Source != "config" {
		t.Fatalf("source = %s", eff.Source)
	}
}

func TestEffectiveConfigFlagOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "10.0.0.1"
  port: 7000
`)
	flags := Flags{Addr: ":9999", DB: "./flagdb", Config: path, Set: map[string]bool{"addr": true, "db": true}}
	eff, err := LoadEffectiveConfig(flags)
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if eff.Addr != ":9999" || eff.DBPath != "./flagdb" {
		t.Fatalf("eff = %+v", eff)
	}
	if eff.Source != "flags" {
		t.Fatalf("source = %s", eff.Source)
	}
}

func TestEffectiveConfigEnvFallback(t *testing.T) {
	t.Setenv("CONVERSE_DB_PATH", "/env/conv")
	t.Setenv("CONVERSE_PRESENCE_IDLE_MS", "750")
	flags := Flags{Addr: ":8080", DB: "./.database", Config: filepath.Join(t.TempDir(), "missing.yaml"), Set: map[string]bool{}}
	eff, err := LoadEffectiveConfig(flags)
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if eff.DBPath != "/env/conv" || eff.Source != "env" {
		t.Fatalf("eff = %+v", eff)
	}
	if got := eff.Config.Presence.IdleWindow.Std(); got != 750*time.Millisecond {
		t.Fatalf("idle window = %s", got)
	}
}

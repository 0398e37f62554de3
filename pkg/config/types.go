package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Presence PresenceConfig `yaml:"presence"`
	Resync   ResyncConfig   `yaml:"resync"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listen and storage settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
}

// EngineConfig tunes per-session behavior.
type EngineConfig struct {
	// HistoryPageSize is the limit used for the full historical fetch on
	// session open and for gateway list calls without an explicit limit.
	HistoryPageSize int `yaml:"history_page_size"`
	// SubscriberBuffer is the per-subscriber channel capacity on the bus.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	// MaxAttachmentBytes is the client-side upload ceiling.
	MaxAttachmentBytes SizeBytes `yaml:"max_attachment_bytes"`
}

// PresenceConfig tunes the typing indicator.
type PresenceConfig struct {
	// IdleWindow is how long after the last keystroke typing=false is
	// published automatically.
	IdleWindow Duration `yaml:"idle_window"`
	// PublishRPS throttles typing publishes per scope.
	PublishRPS   float64 `yaml:"publish_rps"`
	PublishBurst int     `yaml:"publish_burst"`
}

// ResyncConfig drives the optional periodic full-resync runner.
type ResyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// SecurityConfig holds gateway rate limiting.
type SecurityConfig struct {
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML parsing of values like "2s",
// "1500ms" or bare milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// SizeBytes parses YAML values like "10MB", "256KiB" or plain bytes.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(n)
		return nil
	}
	upper := strings.ToUpper(raw)
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		factor int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"KB", 1000}, {"MB", 1000 * 1000}, {"GB", 1000 * 1000 * 1000},
		{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	} {
		if strings.HasSuffix(upper, u.suffix) {
			upper = strings.TrimSuffix(upper, u.suffix)
			mult = u.factor
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", raw, err)
	}
	*s = SizeBytes(n * mult)
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Defaults applied when a field is unset by any source.
const (
	DefaultIdleWindow       = 2000 * time.Millisecond
	DefaultHistoryPage      = 200
	DefaultSubscriberBuffer = 256
	DefaultMaxAttachment    = 10 << 20
	DefaultPublishRPS       = 2.0
	DefaultPublishBurst     = 2
)

// ApplyDefaults fills zero values with engine defaults.
func (c *Config) ApplyDefaults() {
	if c.Presence.IdleWindow == 0 {
		c.Presence.IdleWindow = Duration(DefaultIdleWindow)
	}
	if c.Presence.PublishRPS == 0 {
		c.Presence.PublishRPS = DefaultPublishRPS
	}
	if c.Presence.PublishBurst == 0 {
		c.Presence.PublishBurst = DefaultPublishBurst
	}
	if c.Engine.HistoryPageSize == 0 {
		c.Engine.HistoryPageSize = DefaultHistoryPage
	}
	if c.Engine.SubscriberBuffer == 0 {
		c.Engine.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Engine.MaxAttachmentBytes == 0 {
		c.Engine.MaxAttachmentBytes = DefaultMaxAttachment
	}
}

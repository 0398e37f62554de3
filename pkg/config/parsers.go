package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view of flags, config file and env.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile loads the YAML file named by flags. A missing file is
// not fatal; an empty config and present=false are returned instead.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfg, err := Load(flags.Config)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads CONVERSE_* environment variables into a fresh
// Config and reports whether any were present. It does not mutate a
// caller-provided config.
func ParseConfigEnvs() (*Config, bool) {
	envCfg := &Config{}
	envUsed := false

	if v := os.Getenv("CONVERSE_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	}
	if v := os.Getenv("CONVERSE_DB_PATH"); v != "" {
		envUsed = true
		envCfg.Server.DBPath = v
	}
	if v := os.Getenv("CONVERSE_LOG_LEVEL"); v != "" {
		envUsed = true
		envCfg.Logging.Level = v
	}
	if v := os.Getenv("CONVERSE_PRESENCE_IDLE_MS"); v != "" {
		envUsed = true
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			envCfg.Presence.IdleWindow = Duration(time.Duration(ms) * time.Millisecond)
		}
	}
	if v := os.Getenv("CONVERSE_RESYNC_CRON"); v != "" {
		envUsed = true
		envCfg.Resync.Enabled = true
		envCfg.Resync.Cron = v
	}
	return envCfg, envUsed
}

// LoadEffectiveConfig decides which source wins (flags > config file >
// env) and returns the merged effective configuration.
func LoadEffectiveConfig(flags Flags) (EffectiveConfigResult, error) {
	fileCfg, filePresent, err := ParseConfigFile(flags)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	envCfg, envUsed := ParseConfigEnvs()

	cfg := fileCfg
	source := "config"
	if !filePresent {
		cfg = envCfg
		source = "env"
		if !envUsed {
			source = "flags"
		}
	} else if envUsed {
		// env fills gaps the file left unset
		if cfg.Server.Address == "" {
			cfg.Server.Address = envCfg.Server.Address
		}
		if cfg.Server.Port == 0 {
			cfg.Server.Port = envCfg.Server.Port
		}
		if cfg.Server.DBPath == "" {
			cfg.Server.DBPath = envCfg.Server.DBPath
		}
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = envCfg.Logging.Level
		}
		if cfg.Presence.IdleWindow == 0 {
			cfg.Presence.IdleWindow = envCfg.Presence.IdleWindow
		}
		if cfg.Resync.Cron == "" && envCfg.Resync.Cron != "" {
			cfg.Resync = envCfg.Resync
		}
	}

	addr := flags.Addr
	if !flags.Set["addr"] && cfg.Server.Address != "" {
		addr = cfg.Server.Address
		if cfg.Server.Port != 0 {
			addr = net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.Server.Port))
		}
	}
	dbPath := flags.DB
	if !flags.Set["db"] && cfg.Server.DBPath != "" {
		dbPath = cfg.Server.DBPath
	}
	if flags.Set["addr"] || flags.Set["db"] {
		source = "flags"
	}

	cfg.ApplyDefaults()
	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}

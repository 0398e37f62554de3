package app

import (
	"fmt"

	"converse/pkg/config"
)

// validateConfig performs quick fail-fast validation of the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CONVERSE_DB_PATH env, or server.db_path in config")
	}
	if eff.Addr == "" {
		return fmt.Errorf("listen address is empty: set --addr flag, CONVERSE_ADDR env, or server.address in config")
	}
	cfg := eff.Config
	if cfg.Presence.IdleWindow.Std() <= 0 {
		return fmt.Errorf("presence.idle_window must be positive")
	}
	if cfg.Engine.HistoryPageSize <= 0 {
		return fmt.Errorf("engine.history_page_size must be positive")
	}
	if cfg.Engine.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("engine.max_attachment_bytes must be positive")
	}
	return nil
}

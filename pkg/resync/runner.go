// Package resync drives the optional periodic full-refetch pass over all
// open sessions. Event-driven gap detection handles the common case; this
// runner is a safety net for deployments that want a scheduled
// reconciliation, and it is off by default.
package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"converse/pkg/config"
	"converse/pkg/logger"
	"converse/pkg/session"
)

// Start launches the scheduler when enabled and returns a cancel func.
// A disabled config returns a no-op cancel.
func Start(ctx context.Context, cfg config.ResyncConfig, reg *session.Registry) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("resync_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("resync_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid resync cron expression: %s", cfg.Cron)
	}

	logger.Info("resync_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, reg)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and triggers a pass.
func runScheduler(ctx context.Context, cronExpr string, reg *session.Registry) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("resync_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("resync_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("resync_scheduler_stopping")
			return
		}

		RunOnce(ctx, reg)
	}
}

// RunOnce resyncs every open session. Failures are logged per session and
// do not stop the pass.
func RunOnce(ctx context.Context, reg *session.Registry) {
	start := time.Now()
	var n, failed int
	reg.Each(func(s *session.Session) {
		n++
		if err := s.Resync(ctx); err != nil {
			failed++
			logger.Warn("resync_session_failed", "conversation", s.Conversation(), "err", err)
		}
	})
	logger.Info("resync_pass_done", "sessions", n, "failed", failed, "elapsed", time.Since(start).String())
}
